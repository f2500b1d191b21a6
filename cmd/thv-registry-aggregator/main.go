// Package main is the entry point for the ToolHive registry aggregator.
package main

import (
	"os"

	"github.com/stacklok/toolhive-registry-aggregator/cmd/thv-registry-aggregator/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
