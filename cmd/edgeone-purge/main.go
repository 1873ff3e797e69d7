// Package main is the entry point for the edgeone-purge CLI.
package main

import (
	"context"
	"os"

	"github.com/gmkits/edgeone-purge/cmd/edgeone-purge/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute(context.Background(), os.Args[1:])))
}
