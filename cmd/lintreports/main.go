// cmd/lintreports/main.go
//
// This is the entry point for the lintreports CLI. Ctrl+C cancels the run
// context so watch and browse shut down cleanly.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kingrea/lintreports/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
