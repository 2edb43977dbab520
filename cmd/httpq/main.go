package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/httpq/internal/config"
	"github.com/mattjoyce/httpq/internal/dispatch"
	"github.com/mattjoyce/httpq/internal/events"
	"github.com/mattjoyce/httpq/internal/journal"
	"github.com/mattjoyce/httpq/internal/log"
	"github.com/mattjoyce/httpq/internal/queue"
	"github.com/mattjoyce/httpq/internal/transport"
	"github.com/mattjoyce/httpq/internal/tui/fetch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "fetch":
		os.Exit(runFetch(args))
	case "journal":
		os.Exit(runJournalNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("httpq version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`httpq - serial HTTP fetch queue

Usage:
  httpq fetch [--config path] [--json] [--watch] URL...
  httpq journal list [--config path] [--limit n]
  httpq journal prune [--config path]
  httpq config check [--config path]
  httpq config dump [--config path]
  httpq version
  httpq help`)
}

// setup loads config and initializes logging. Shared by every subcommand.
func setup(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel)
	return cfg, nil
}

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	asJSON := fs.Bool("json", false, "decode responses as JSON")
	watch := fs.Bool("watch", false, "show live progress TUI")
	_ = fs.Parse(args)

	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "fetch: no URLs given")
		return 1
	}

	cfg, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: cfg.Transport.Timeout}
	handle := transport.NewHandle(client, cfg.Transport.UserAgent)
	q := queue.New(cfg.Queue.Capacity)
	hub := events.NewHub(256)

	var rec dispatch.Recorder
	if cfg.Journal.Enabled {
		j, err := journal.Open(context.Background(), cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "journal: %v\n", err)
			return 1
		}
		defer func() { _ = j.Close() }()
		rec = j
	}

	d := dispatch.New(handle, q, hub, rec)

	var sub <-chan events.Event
	var cancel func()
	if *watch {
		sub, cancel = hub.Subscribe()
		defer cancel()
	}

	futures := make([]*dispatch.Future, 0, len(urls))
	for _, u := range urls {
		f, err := d.Do(queue.Options{URL: u, JSON: *asJSON})
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue %s: %v\n", u, err)
			return 1
		}
		futures = append(futures, f)
	}

	if *watch {
		model := fetch.New(sub, len(urls))
		if _, err := tea.NewProgram(model).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "tui: %v\n", err)
			return 1
		}
	}

	failed := 0
	for i, f := range futures {
		res, status, err := f.Wait(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", urls[i], err)
			failed++
			continue
		}
		if status == 0 || res.Err != nil {
			failed++
			if res.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", urls[i], res.Err)
			} else {
				fmt.Fprintf(os.Stderr, "%s: aborted or unreachable\n", urls[i])
			}
			continue
		}
		if !*watch {
			fmt.Println(res.Text)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d requests failed\n", failed, len(urls))
		return 1
	}
	return 0
}

func runJournalNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "journal: expected subcommand (list, prune)")
		return 1
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "list":
		return runJournalList(rest)
	case "prune":
		return runJournalPrune(rest)
	default:
		fmt.Fprintf(os.Stderr, "journal: unknown subcommand %q\n", sub)
		return 1
	}
}

func openJournal(configPath string) (*journal.Journal, *config.Config, error) {
	cfg, err := setup(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, nil, fmt.Errorf("journal is not enabled in config")
	}
	j, err := journal.Open(context.Background(), cfg.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	return j, cfg, nil
}

func runJournalList(args []string) int {
	fs := flag.NewFlagSet("journal list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.Int("limit", 50, "max entries to show")
	_ = fs.Parse(args)

	j, _, err := openJournal(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		return 1
	}
	defer func() { _ = j.Close() }()

	entries, err := j.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		return 1
	}

	for _, e := range entries {
		errS := ""
		if e.LastError != "" {
			errS = "  error=" + e.LastError
		}
		fmt.Printf("%s  %3d  %6dB  %6s  %s%s\n",
			e.CompletedAt.Format("2006-01-02T15:04:05Z"),
			e.Status, e.Bytes, e.Duration, e.URL, errS)
	}
	return 0
}

func runJournalPrune(args []string) int {
	fs := flag.NewFlagSet("journal prune", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	j, cfg, err := openJournal(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		return 1
	}
	defer func() { _ = j.Close() }()

	if cfg.Journal.Retention <= 0 {
		fmt.Fprintln(os.Stderr, "journal: no retention configured, nothing to prune")
		return 1
	}

	n, err := j.Prune(context.Background(), cfg.Journal.Retention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		return 1
	}
	fmt.Printf("pruned %d entries older than %s\n", n, cfg.Journal.Retention)
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "config: expected subcommand (check, dump)")
		return 1
	}

	sub := args[0]
	fs := flag.NewFlagSet("config "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args[1:])

	switch sub {
	case "check":
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
		fmt.Println("config OK")
		return 0
	case "dump":
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
		out, err := config.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
		fmt.Print(out)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "config: unknown subcommand %q\n", sub)
		return 1
	}
}
