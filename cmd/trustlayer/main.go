// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the trustlayer binary. It serves the trust
// validation API and offers one-shot commands for submitting a round,
// checking the router and managing hooks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/trustlayer/internal/api"
	"github.com/traylinx/trustlayer/internal/buildinfo"
	"github.com/traylinx/trustlayer/internal/config"
	"github.com/traylinx/trustlayer/internal/heartbeat"
	"github.com/traylinx/trustlayer/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: trustlayer <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  serve       Start the HTTP API (default)")
	fmt.Fprintln(w, "  submit      Run a single round and print the result and receipt")
	fmt.Fprintln(w, "  health      Check the responder router once")
	fmt.Fprintln(w, "  hooks       List or test hooks")
	fmt.Fprintln(w, "  hash-key    Print a bcrypt hash for an API key")
	fmt.Fprintln(w, "  version     Print build information")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "submit":
		var rejected bool
		rejected, err = runSubmit(args, stdout)
		if err == nil && rejected {
			return 2
		}
	case "health":
		err = runHealth(args, stdout)
	case "hooks":
		err = runHooks(args, stdout)
	case "hash-key":
		err = runHashKey(args, stdout)
	case "version":
		fmt.Fprintln(stdout, buildinfo.Current())
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	port := fs.Int("port", 0, "Listen port (overrides config)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Server.Debug = true
	}

	logging.SetLevel(cfg.Server.Debug)
	if err := logging.ConfigureLogOutput(cfg.Server.LoggingToFile, logging.DefaultLogDir, cfg.Server.LogsMaxTotalSizeMB); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rt.monitor != nil {
		if err := rt.monitor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start heartbeat monitor: %w", err)
		}
	}

	server := api.NewServer(cfg, rt.engine,
		api.WithMetrics(rt.metrics),
		api.WithHeartbeat(rt.monitor),
		api.WithResponderClient(rt.client),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// runSubmit reports whether the round was rejected.
func runSubmit(args []string, stdout io.Writer) (bool, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	prompt := fs.String("prompt", "", "Prompt to validate")
	task := fs.String("task", "", "Task label recorded in the receipt")
	receiptOnly := fs.Bool("receipt-only", false, "Print only the receipt")
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if strings.TrimSpace(*prompt) == "" && fs.NArg() > 0 {
		*prompt = strings.Join(fs.Args(), " ")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return false, err
	}
	cfg.Heartbeat.Enabled = false

	rt, err := newRuntime(cfg)
	if err != nil {
		return false, err
	}
	defer rt.close()

	res, err := rt.engine.SubmitRound(context.Background(), *prompt, *task)
	if err != nil {
		return false, err
	}

	var out any = map[string]any{"result": res, "receipt": res.Receipt}
	if *receiptOnly {
		out = res.Receipt
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return false, fmt.Errorf("failed to encode output: %w", err)
	}
	return !res.Approved(), nil
}

func runHealth(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.Heartbeat.Enabled = false
	cfg.Hooks.Enabled = false

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	monitor := heartbeat.NewMonitor(rt.client, heartbeat.Config{
		Timeout: cfg.Heartbeat.TimeoutDuration(),
		Quorum:  cfg.Fanout.Quorum,
	})
	status := monitor.Check(context.Background())

	fmt.Fprintf(stdout, "Router:     %s\n", displayRouter(cfg.Router.URL))
	fmt.Fprintf(stdout, "Status:     %s\n", status.Status)
	fmt.Fprintf(stdout, "Responders: %d (quorum %d)\n", status.Responders, status.Quorum)
	fmt.Fprintf(stdout, "Checked in: %s\n", status.ResponseTime.Round(time.Millisecond))
	if status.ErrorMessage != "" {
		fmt.Fprintf(stdout, "Detail:     %s\n", status.ErrorMessage)
	}
	if status.Status == heartbeat.StatusUnavailable {
		return fmt.Errorf("router unavailable")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Heartbeat.TimeoutDuration())
	defer cancel()
	if ic, ok := rt.client.(routerInfo); ok {
		if info, err := ic.Info(ctx); err == nil {
			for _, key := range []string{"version", "node_id", "status"} {
				if v, ok := info[key]; ok {
					fmt.Fprintf(stdout, "Info %s: %v\n", key, v)
				}
			}
		} else {
			fmt.Fprintf(stdout, "Info:       unavailable (%v)\n", err)
		}
	}
	if listed, err := rt.client.ListResponders(ctx); err == nil {
		for _, d := range listed {
			fmt.Fprintf(stdout, "  - %s %s %s\n", d.ID, d.Model, d.Status)
		}
	}
	return nil
}

// routerInfo is implemented by responder.RouterClient.
type routerInfo interface {
	Info(ctx context.Context) (map[string]any, error)
}

func displayRouter(url string) string {
	if url == "" {
		return "(none, synthetic replies)"
	}
	return url
}

func runHashKey(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key to hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" && fs.NArg() > 0 {
		*key = fs.Arg(0)
	}
	hashed, err := config.HashAPIKey(*key)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hashed)
	return nil
}
