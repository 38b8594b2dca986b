// Package code mints human-friendly room codes.
package code

import (
	"crypto/rand"
	"strings"
)

// Alphabet excludes 0, 1, I and O; what remains survives being read
// aloud or retyped from a phone screen.
const (
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Length   = 6
)

// New draws a random code. Uniqueness against live rooms is the
// caller's business (the registry retries under its own lock).
func New() (string, error) {
	var b [Length]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = Alphabet[int(b[i])%len(Alphabet)]
	}
	return string(b[:]), nil
}

// Normalize canonicalizes client input: codes are case-insensitive
// on the wire, uppercase in the registry.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether s is a well-formed code.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(Alphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
