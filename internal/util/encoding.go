package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKC form of s.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeEmail trims surrounding space and folds the domain part to its
// NFKC lower-case form. The local part is kept verbatim: the API matches it
// exactly, so "John.Smith" and "john.smith" are different accounts.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(Normalize(email[at+1:]))
}
