package main

import "github.com/jmcleod/emporia/cmd/emporia/cmd"

func main() {
	cmd.Execute()
}
