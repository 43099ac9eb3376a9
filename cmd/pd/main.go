// Package main provides the entry point for the pd CLI.
package main

import (
	"os"

	"github.com/phax/phoss-directory-sub000/cmd/pd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
