package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/nanny/internal/api"
	"github.com/mattjoyce/nanny/internal/config"
	"github.com/mattjoyce/nanny/internal/journal"
	"github.com/mattjoyce/nanny/internal/lock"
	"github.com/mattjoyce/nanny/internal/log"
	"github.com/mattjoyce/nanny/internal/supervisor"
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
	case "start":
		os.Exit(runStart(args))
	case "check":
		os.Exit(runCheck(args))
	case "version":
		fmt.Printf("nanny version %s\n", version)
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
	fmt.Print(`nanny - child-process supervisor

Launches an external long-running binary, waits for it to report readiness
over a dedicated file descriptor, restarts it on unexpected exit, and tears
it down before nanny itself goes away.

Usage:
  nanny <command> [flags]

Commands:
  start     Run the supervisor in the foreground
  check     Validate a config file and print its digest
  version   Show version information
  help      Show this help message

Flags for start/check:
  -config <path>   Daemon config file (default: config.yaml)
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to daemon config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	digest, err := config.ComputeBlake3Hash(*configPath)
	if err != nil {
		logger.Warn("compute config digest", "error", err)
	}
	logger.Info("configuration loaded", "path", *configPath, "digest", digest, "service", cfg.Service.Name)

	if cfg.Service.LockPath != "" {
		l, err := lock.Acquire(cfg.Service.LockPath)
		if err != nil {
			logger.Error("acquire pid lock", "error", err)
			return 1
		}
		defer func() { _ = l.Release() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var jnl *journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("open journal", "error", err)
			return 1
		}
		defer func() { _ = jnl.Close() }()
	}

	sup, err := supervisor.New(supervisor.Config{
		ExecutablePath:    cfg.Child.Executable,
		ConfigPath:        cfg.Child.ConfigFile,
		ConfigInline:      inlineConfig(cfg),
		ExtraArgs:         cfg.Child.Args,
		ExtraEnv:          cfg.Child.Env,
		StartupTimeout:    cfg.Child.StartupTimeout(),
		TerminationEvents: cfg.Child.TerminationEvents,
		Logger:            log.Get(),
	})
	if err != nil {
		logger.Error("invalid child configuration", "error", err)
		return 1
	}

	// LIFO: on a panic HandlePanic runs first (fire-and-forget stop, then
	// re-raise); HandleExit covers the normal-return path.
	defer sup.HandleExit()
	defer sup.HandlePanic()

	go consumeEvents(ctx, sup, jnl)

	if cfg.API.Enabled {
		var events api.EventReader
		if jnl != nil {
			events = jnl
		}
		srv := api.New(api.Config{
			Listen:       cfg.API.Listen,
			ConfigDigest: digest,
		}, sup, events, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	addr, err := sup.Start(ctx)
	if err != nil {
		logger.Error("child failed to start", "error", err)
		return 1
	}
	logger.Info("child is serving", "url", addr.URL, "ip", addr.IP, "port", addr.Port)

	<-sup.Done()
	if sup.State() == supervisor.StateFailed {
		return 1
	}
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to daemon config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	digest, err := config.ComputeBlake3Hash(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "digest error: %v\n", err)
		return 1
	}

	fmt.Printf("OK  service=%s executable=%s digest=%s\n",
		cfg.Service.Name, cfg.Child.Executable, digest)
	return 0
}

func inlineConfig(cfg *config.Config) any {
	if cfg.Child.ConfigInline == nil {
		return nil
	}
	return cfg.Child.ConfigInline
}

// consumeEvents drains the supervisor's notification stream into the journal.
// Restarts and errors are already logged by the supervisor itself.
func consumeEvents(ctx context.Context, sup *supervisor.Supervisor, jnl *journal.Journal) {
	for ev := range sup.Events() {
		if jnl == nil {
			continue
		}

		var kind, detail string
		switch ev.Kind {
		case supervisor.EventReady:
			kind, detail = journal.KindReady, ev.Address.URL
		case supervisor.EventRestarting:
			kind, detail = journal.KindRestart, ev.Cause
		case supervisor.EventError:
			kind, detail = journal.KindError, ev.Err.Error()
		default:
			continue
		}

		if err := jnl.Append(ctx, kind, detail); err != nil {
			log.Warn("journal append failed", "error", err)
		}
	}
}
