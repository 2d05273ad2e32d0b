// Package main provides the entry point for the nvmepts IOPS test CLI.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
