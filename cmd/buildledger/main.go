// Package main is the entry point for the buildledger CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"buildledger/internal/cli"
)

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	// Interrupts cancel the build; running tasks are stopped and the trace is
	// still written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, version, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
