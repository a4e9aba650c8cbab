package cmd

import (
	"fmt"
)

const banner = `
  _____                               _
 | ____|_ __ ___  _ __   ___  _ __(_) __ _
 |  _| | '_ ` + "`" + ` _ \| '_ \ / _ \| '__| |/ _` + "`" + ` |
 | |___| | | | | | |_) | (_) | |  | | (_| |
 |_____|_| |_| |_| .__/ \___/|_|  |_|\__,_|
                 |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Storefront Client - Version %s\x1b[0m\n\n", Version)
}
