// Command millctl is the headless companion to the millwright desktop app.
package main

import (
	"fmt"
	"os"

	"github.com/chazu/millwright/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
