// Package main provides salesctl, the operator CLI for pattern files, the
// special-case knowledge base and offline slot extraction.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
