package main

import (
	"fmt"
	"os"

	"github.com/gobeaver/vfskit/internal/cli/commands"
)

// Set by ldflags
var version = "dev"

func main() {
	commands.SetVersion(version)
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
