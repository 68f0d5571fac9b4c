// Package main provides canshmctl, a demo command-line front end for
// pkg/canshm. Out of the core scope per spec.md §1 (treated only as an
// external collaborator), grounded on cmd/tk's subcommand dispatch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

type command struct {
	usage string
	short string
	exec  func(ctx context.Context, args []string) error
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:]))
}

func commands() []command {
	return []command{
		{"set <id> <hex-bytes>", "publish a CAN frame payload", cmdSet},
		{"get <id>", "read the current value for a CAN id", cmdGet},
		{"subscribe <id> [count] [timeout]", "block until updates arrive", cmdSubscribe},
		{"stats", "print region statistics", cmdStats},
		{"dump", "print a full diagnostic dump of the region", cmdDump},
		{"repl", "start an interactive session", cmdRepl},
	}
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	name := args[0]
	for _, c := range commands() {
		if commandName(c.usage) == name {
			if err := c.exec(ctx, args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "canshmctl: %v\n", err)
				return 1
			}
			return 0
		}
	}

	fmt.Fprintf(os.Stderr, "canshmctl: unknown command %q\n", name)
	printUsage()
	return 2
}

func commandName(usage string) string {
	for i, r := range usage {
		if r == ' ' {
			return usage[:i]
		}
	}
	return usage
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: canshmctl <command> [args]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, c := range commands() {
		fmt.Fprintf(os.Stderr, "  %-36s %s\n", c.usage, c.short)
	}
}
