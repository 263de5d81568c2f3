// Package main provides the entry point for the syncbridge CLI.
package main

import (
	"github.com/agentpress/syncbridge/cmd/syncbridge/cmd"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.Execute(version, commit, date)
}
