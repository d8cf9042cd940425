package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/traylinx/trustlayer/internal/hooks"
)

// HooksCommand represents available hooks subcommands
type HooksCommand string

const (
	HooksList HooksCommand = "list"
	HooksTest HooksCommand = "test"
)

// HooksOptions holds the command-line options for hooks commands
type HooksOptions struct {
	Command    HooksCommand
	ConfigPath string
	Dir        string
	HookID     string
	Event      string
	Data       string // JSON data for test
	Format     string
}

// ParseHooksCommand parses command arguments
func ParseHooksCommand(args []string) (*HooksOptions, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing subcommand")
	}

	opts := &HooksOptions{Command: HooksCommand(args[0])}
	fs := flag.NewFlagSet("hooks", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", "", "Configuration file path")
	fs.StringVar(&opts.Dir, "dir", "", "Hooks directory (overrides config)")
	fs.StringVar(&opts.HookID, "id", "", "Target hook ID")
	fs.StringVar(&opts.Event, "event", string(hooks.EventRoundRejected), "Event type for test")
	fs.StringVar(&opts.Data, "data", "{}", "JSON data payload for test")
	fs.StringVar(&opts.Format, "format", "table", "Output format (table/json)")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	return opts, nil
}

func printHooksUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: trustlayer hooks <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  list           List all configured hooks")
	fmt.Fprintln(w, "  test           Test hook conditions against a simulated event")
	fmt.Fprintln(w, "\nExamples:")
	fmt.Fprintln(w, "  trustlayer hooks list --format json")
	fmt.Fprintln(w, "  trustlayer hooks test --event round_rejected --data '{\"trust_score\":41}'")
}

func runHooks(args []string, stdout io.Writer) error {
	opts, err := ParseHooksCommand(args)
	if err != nil {
		printHooksUsage(stdout)
		return err
	}

	dir := opts.Dir
	if dir == "" {
		cfg, err := loadConfig(opts.ConfigPath)
		if err != nil {
			return err
		}
		dir = cfg.Hooks.Dir
	}

	bus := hooks.NewEventBus()
	defer bus.Shutdown()
	manager, err := hooks.NewHookManager(dir, bus)
	if err != nil {
		return err
	}
	defer manager.Close()
	if err := manager.LoadHooks(); err != nil {
		return err
	}

	switch opts.Command {
	case HooksList:
		return doHooksList(stdout, manager, opts)
	case HooksTest:
		return doHooksTest(stdout, manager, opts)
	default:
		printHooksUsage(stdout)
		return fmt.Errorf("unknown hooks command: %s", opts.Command)
	}
}

func doHooksList(w io.Writer, manager *hooks.HookManager, opts *HooksOptions) error {
	all := manager.Hooks()
	if len(all) == 0 {
		fmt.Fprintln(w, "No hooks configured.")
		fmt.Fprintf(w, "Create hook files in: %s\n", manager.HooksDir())
		return nil
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}

	fmt.Fprintf(w, "Hooks Directory: %s\n", manager.HooksDir())
	fmt.Fprintf(w, "Total Hooks: %d\n\n", len(all))
	for i, hook := range all {
		fmt.Fprintf(w, "[%d] %s\n", i+1, hook.Name)
		fmt.Fprintf(w, "    ID: %s\n", hook.ID)
		fmt.Fprintf(w, "    Event: %s\n", hook.Event)
		fmt.Fprintf(w, "    Action: %s\n", hook.Action)
		fmt.Fprintf(w, "    Condition: %s\n", hook.Condition)
		if hook.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", hook.Description)
		}
		fmt.Fprintf(w, "    File: %s\n\n", hook.FilePath)
	}
	return nil
}

func doHooksTest(w io.Writer, manager *hooks.HookManager, opts *HooksOptions) error {
	var data map[string]any
	if err := json.Unmarshal([]byte(opts.Data), &data); err != nil {
		return fmt.Errorf("failed to parse data JSON: %w", err)
	}
	ctx := &hooks.EventContext{
		Event:     hooks.HookEvent(opts.Event),
		Timestamp: time.Now(),
		Data:      data,
	}

	candidates := manager.Hooks()
	if opts.HookID != "" {
		hook := manager.Hook(opts.HookID)
		if hook == nil {
			return fmt.Errorf("hook with ID '%s' not found", opts.HookID)
		}
		candidates = []*hooks.Hook{hook}
	}

	fmt.Fprintf(w, "Event Type: %s\n", ctx.Event)
	fmt.Fprintf(w, "Event Data: %s\n\n", opts.Data)

	matched := 0
	for _, hook := range candidates {
		fmt.Fprintf(w, "%s (%s): ", hook.Name, hook.ID)
		if hook.Event != ctx.Event {
			fmt.Fprintf(w, "event mismatch (expects %s)\n", hook.Event)
			continue
		}
		ok, err := manager.EvaluateCondition(hook, ctx)
		switch {
		case err != nil:
			fmt.Fprintf(w, "condition failed: %v\n", err)
		case ok:
			matched++
			fmt.Fprintf(w, "would execute %s\n", hook.Action)
		default:
			fmt.Fprintln(w, "condition not met")
		}
	}
	fmt.Fprintf(w, "\nMatched %d of %d hook(s)\n", matched, len(candidates))
	return nil
}
