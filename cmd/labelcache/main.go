// Command labelcache processes upload events, serves the HTTP API and runs
// pipeline scenarios.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/labelcache/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
