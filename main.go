// ABOUTME: Entry point for the fieldsync CLI, sync daemon, TUI and MCP server
// ABOUTME: Loads configuration and routes to the requested command
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/cli"
	"github.com/harperreed/fieldsync/config"
	"github.com/harperreed/fieldsync/tui"
)

const version = "0.1.0"

// appCommands need the full App: database, queue, cache and sink.
var appCommands = map[string]func(*cli.App, []string) error{
	"add":     cli.AddCommand,
	"list":    cli.ListCommand,
	"discard": cli.DiscardCommand,
	"sync":    cli.SyncCommand,
	"retry":   cli.RetryCommand,
	"clear":   cli.ClearCommand,
	"status":  cli.StatusCommand,
	"cache":   cli.CacheCommand,
	"pending": cli.PendingCommand,
	"daemon":  cli.DaemonCommand,
}

// cacheModes lists commands that open the badger cache. It is locked per process,
// so everything else runs while a daemon holds it.
var cacheModes = map[string]cli.CacheMode{
	"cache":   cli.CacheRequired,
	"pending": cli.CacheRequired,
	"daemon":  cli.CacheRequired,
	"mcp":     cli.CacheOptional,
	"status":  cli.CacheOptional,
}

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	cfgPath := flag.String("config", config.Path(), "Config file path")
	envFile := flag.String("env", ".env", "Environment file to load before reading config")
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("fieldsync version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}
	command := args[0]
	commandArgs := args[1:]

	if err := config.LoadEnv(*envFile); err != nil {
		log.Fatal("failed to load environment", "err", err)
	}

	// init writes the config, so it runs before the config is required to be valid.
	if command == "init" {
		if err := cli.InitCommand(*cfgPath, commandArgs); err != nil {
			log.Fatal("init failed", "err", err)
		}
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}

	var logOut io.Writer = os.Stderr
	if command == "tui" {
		logOut = io.Discard
	}
	logger := config.NewLogger(logOut, cfg.LogLevel)
	log.SetDefault(logger)

	if command == "login" {
		if err := cli.LoginCommand(cfg, commandArgs); err != nil {
			logger.Fatal("login failed", "err", err)
		}
		return
	}

	run, ok := appCommands[command]
	if !ok && command != "tui" && command != "mcp" {
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	app, err := cli.NewApp(context.Background(), cfg, logger, cacheModes[command])
	if err != nil {
		logger.Fatal("failed to start", "err", err)
	}

	switch command {
	case "tui":
		err = tui.Run(app.Service)
	case "mcp":
		err = cli.MCPCommand(app, version)
	default:
		err = run(app, commandArgs)
	}

	if cerr := app.Close(); cerr != nil {
		logger.Error("failed to close stores", "err", cerr)
	}
	if err != nil {
		logger.Fatal("command failed", "command", command, "err", err)
	}
}

func printUsage() {
	fmt.Printf(`fieldsync v%s - Offline-first action queue for HSSE field work

USAGE:
  fieldsync [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.local/share/fieldsync/config.json)
  --env <path>           Environment file (default: .env)

SETUP:
  fieldsync init            Create the device id and config
    --sink <http|charm>       Remote sink (default: http)
    --server <url>            Field API server URL
    --health-url <url>        Connectivity probe URL (default: <server>/health)
    --tenant <id>             Tenant ID written on synced records
    --user <id>               User ID written on synced records
    --charm-host <host>       Charm server host
    --location <provider>     gpsd, static or none
    --gpsd <addr>             gpsd address (default: 127.0.0.1:2947)
    --lat, --lng <deg>        Fixed position for the static provider

  fieldsync login           Store the API token for the http sink
    --token <token>           Token (prompted when omitted)
    --expires-in <duration>   Token lifetime

ACTIONS:
  fieldsync add <type> --data <json> [--entity <ref>]
                            Queue an action; types: inspection, condition_update,
                            maintenance_log, transfer, scan_log, photo_upload
  fieldsync list            List queued actions
    --status <status>         Filter by pending, syncing, synced, failed or conflict
    --json                    Print JSON
  fieldsync discard <id>    Drop an action without syncing it

SYNC:
  fieldsync sync            Send pending and failed actions now
  fieldsync retry           Requeue failed and conflicting actions
  fieldsync clear           Remove synced actions
  fieldsync status          Queue counts, connectivity and recent drains
  fieldsync daemon          Sync in the background until interrupted
    --interval <duration>     Scheduled drain interval (min 30s)
    --sweep-interval <dur>    Cache sweep interval (min 30s)

CACHE:
  fieldsync cache set <partition> <key> <json>
  fieldsync cache get <partition> <key>
  fieldsync cache delete <partition> <key>
  fieldsync cache clear <partition>
  fieldsync cache sweep     Remove expired entries
  fieldsync cache probe     Report whether unexpired data is available offline
  fieldsync cache partitions

  fieldsync pending list
  fieldsync pending add <type> <json>
  fieldsync pending retry <id>
  fieldsync pending remove <id>
  fieldsync pending flush   Deliver pending writes now

INTERFACES:
  fieldsync tui             Interactive queue view
  fieldsync mcp             Start MCP server on stdio

CONFIGURATION:
  Settings are read from the config file, then FIELDSYNC_* environment
  variables (FIELDSYNC_SERVER, FIELDSYNC_SINK, FIELDSYNC_LOG_LEVEL, ...).
`, version)
}
