// Kestrel review console - import, triage and dispose of scored transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/kestrel/internal/client"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const usage = `Usage: review <command> [flags]

Commands:
  import   -file batch.csv [-concurrency n]   Upload a CSV batch
  list     [-q text] [-risk all|high|medium|low]   Print the dashboard
  watch    [-q text] [-risk ...]               Dashboard, refreshed periodically
  show     -id ID                             Transaction detail and audit trail
  approve  -id ID [-yes]                      Mark as legitimate
  reject   -id ID [-yes]                      Mark as fraud
  flag     -id ID                             Flag for further review

Environment:
  KESTREL_CONFIG               optional YAML config file
  KESTREL_CONSOLE_API_URL      persistence API base URL
`

// errUsage is returned for bad invocations; main prints usage and exits 2.
var errUsage = errors.New("usage")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "review: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := newApp(cfg, client.New(cfg.Console.APIURL, client.WithTimeout(cfg.Console.RequestTimeout)), os.Stdin, os.Stdout, logger)

	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "review: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg    *domain.Config
	api    *client.Client
	in     *bufio.Reader
	out    io.Writer
	logger *slog.Logger
}

func newApp(cfg *domain.Config, api *client.Client, in io.Reader, out io.Writer, logger *slog.Logger) *app {
	return &app{
		cfg:    cfg,
		api:    api,
		in:     bufio.NewReader(in),
		out:    out,
		logger: logger,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "import":
		return a.importCmd(ctx, rest)
	case "list":
		return a.listCmd(ctx, rest, false)
	case "watch":
		return a.listCmd(ctx, rest, true)
	case "show":
		return a.showCmd(ctx, rest)
	case "approve", "reject":
		return a.disposeCmd(ctx, cmd, rest)
	case "flag":
		return a.flagCmd(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}
