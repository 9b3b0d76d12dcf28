// Package main is the entry point for the reportctl binary.
package main

import (
	"os"

	cli "fleet-reports/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
