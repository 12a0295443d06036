// Package main provides the entry point for the obplan CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/obplan/cmd/obplan/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
