// collabctl inspects the collaboration log offline: it lists sessions,
// prints transcripts, tails and searches messages and exports sessions to
// text files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/flitsinc/collabhub/internal/collab"
	"github.com/flitsinc/collabhub/internal/config"
	"github.com/flitsinc/collabhub/internal/logtail"
)

const defaultTail = 20

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var configPath, collabFile string

	flagSet := pflag.NewFlagSet("collabctl", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&configPath, "config", "", "path to a .toml, .yaml or .json config file")
	flagSet.StringVar(&collabFile, "collab-file", "", "collaboration log to read")
	flagSet.Usage = func() { printUsage(out, flagSet) }
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if collabFile != "" {
		cfg.CollabFile = collabFile
	}

	events, err := loadEvents(cfg.CollabFile)
	if err != nil {
		return err
	}
	a := newApp(out, cfg.CollabFile, cfg.AgentIDs(), events)

	rest := flagSet.Args()
	cmd := "list"
	if len(rest) > 0 {
		cmd = rest[0]
	}
	switch {
	case cmd == "list":
		return a.list()
	case cmd == "show" && len(rest) > 1:
		return a.show(rest[1])
	case cmd == "tail":
		n := defaultTail
		if len(rest) > 1 {
			n, err = strconv.Atoi(rest[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("tail: invalid count %q", rest[1])
			}
		}
		return a.tail(n)
	case cmd == "stats":
		return a.stats(ctx)
	case cmd == "search" && len(rest) > 1:
		return a.search(ctx, strings.Join(rest[1:], " "))
	case cmd == "export" && len(rest) > 1:
		return a.export(rest[1])
	default:
		printUsage(out, flagSet)
		return nil
	}
}

func loadEvents(path string) ([]collab.Event, error) {
	lines, _, err := logtail.LoadAll(path)
	if err != nil {
		return nil, err
	}
	events := make([]collab.Event, 0, len(lines))
	for _, line := range lines {
		if evt, ok := collab.ParseLine(line); ok {
			events = append(events, evt)
		}
	}
	return events, nil
}

func printUsage(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(out, `collabctl - inspect the agent collaboration log

Usage:
  collabctl [flags] list                 List all sessions
  collabctl [flags] show <session_id>    Show a full session transcript
  collabctl [flags] tail [n]             Show the last n events (default 20)
  collabctl [flags] stats                Show statistics
  collabctl [flags] search <keyword>     Search messages
  collabctl [flags] export <session_id>  Export a session to a text file

Flags:
`)
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
}
