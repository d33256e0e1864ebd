// Command skillcheck runs YAML scenarios against an LLM coding agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/skillcheck/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Cancelling the context stops the running agent; deferred fixture
	// cleanup in the run command then removes the working copies.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
