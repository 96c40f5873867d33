package main

import (
	"os"

	"github.com/wonny/finpipe/cmd/finpipe/commands"
)

// main is the entry point for the finpipe CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/finpipe [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
