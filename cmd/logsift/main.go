package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  _                  _  __ _
 | | ___   __ _ ___ (_)/ _| |_
 | |/ _ \ / _` + "`" + ` / __|| | |_| __|
 | | (_) | (_| \__ \| |  _| |_
 |_|\___/ \__, |___/|_|_|  \__|
          |___/

  Caddy access-log sifter

  Usage: logsift serve [--mcp]
         logsift --help`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLIApp()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code := 1
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			code = coder.ExitCode()
		}
		stop()
		os.Exit(code)
	}
}
