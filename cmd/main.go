// Package main is the entry point for perfmon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/web-performance-monitor/internal/alerting"
	"github.com/compresr/web-performance-monitor/internal/config"
	"github.com/compresr/web-performance-monitor/internal/monitor"
	"github.com/compresr/web-performance-monitor/internal/monitoring"
	"github.com/compresr/web-performance-monitor/internal/tui"
)

// Set at build time via ldflags.
var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/perfmon/.env first
	configEnv := filepath.Join(homeDir, ".config", "perfmon", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServe(os.Args[2:])
			return
		case "check":
			os.Exit(runCheck(os.Args[2:]))
		case "config":
			os.Exit(runConfig(os.Args[2:]))
		case "version", "-v", "--version":
			printVersion()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

// resolveConfig resolves the config file.
// Checks: user flag -> filesystem locations -> embedded default.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	searchPaths := []string{}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "perfmon", "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml", "perfmon.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig("default"); err == nil {
		return data, "(embedded) default.yaml", nil
	}
	return nil, "", fmt.Errorf("no config file found. Specify --config path")
}

// loadConfig parses common flags, loads .env files and the config.
func loadConfig(name string, args []string, extra func(*flag.FlagSet)) (*config.Config, string, bool, error) {
	loadEnvFiles()

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	if extra != nil {
		extra(fs)
	}
	_ = fs.Parse(args) // ExitOnError handles errors

	data, source, err := resolveConfig(*configPath)
	if err != nil {
		return nil, "", *debug, err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, source, *debug, fmt.Errorf("%s: %w", source, err)
	}
	return cfg, source, *debug, nil
}

// setupLogging installs the global logger and returns it for the monitor.
// Console output is used on a terminal unless the config asks for a format.
func setupLogging(cfg config.LoggingConfig, debug bool) *monitoring.Logger {
	if debug {
		cfg.Level = "debug"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			cfg.Format = "console"
		}
	}
	monitoring.Global(cfg)
	return monitoring.New(cfg)
}

// runCheck probes every enabled channel and prints the result. Exit status 1
// means the self-test failed.
func runCheck(args []string) int {
	var timeout time.Duration
	var asJSON bool
	cfg, source, debug, err := loadConfig("check", args, func(fs *flag.FlagSet) {
		fs.DurationVar(&timeout, "timeout", 30*time.Second, "overall probe timeout")
		fs.BoolVar(&asJSON, "json", false, "print the result as JSON")
	})
	logger := setupLogging(config.LoggingConfig{Level: "warn", Format: "console", Output: "stderr"}, debug)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	logger.Info().Str("config", source).Msg("checking alert channels")

	mon, err := monitor.New(cfg, monitor.WithLogger(logger), monitor.WithVersion(Version))
	if err != nil {
		log.Error().Err(err).Msg("failed to create monitor")
		return 1
	}
	defer func() { _ = mon.Cleanup() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	res := mon.TestAlertSystem(ctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printCheck(tui.New(os.Stdout), res, time.Since(start))
	}
	if !res.Success {
		return 1
	}
	return 0
}

// printCheck renders a self-test result for a human reader.
func printCheck(p *tui.Printer, res alerting.SelfTestResult, took time.Duration) {
	results := make([]tui.ChannelResult, 0, len(res.NotifierResults))
	for name, ok := range res.NotifierResults {
		results = append(results, tui.ChannelResult{Name: name, OK: ok, Error: res.Errors[name]})
	}
	p.ChannelReport(results, took)
	if res.Success {
		p.Success(res.Message)
	} else {
		p.Error(res.Message)
	}
}

// runConfig prints the effective configuration with secrets redacted.
func runConfig(args []string) int {
	cfg, source, _, err := loadConfig("config", args, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	out, err := cfg.Effective().YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	fmt.Printf("# source: %s\n", source)
	_, _ = os.Stdout.Write(out)
	return 0
}

func printVersion() {
	fmt.Printf("perfmon %s (commit %s, built %s)\n", Version, Commit, BuildDate)
}

// printHelp prints usage information
func printHelp() {
	fmt.Println("perfmon - slow request detection and alerting for Go web services")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  perfmon <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Run the demo server with monitoring and admin endpoints")
	fmt.Println("  check        Test every enabled alert channel and print the result")
	fmt.Println("  config       Print the effective configuration (secrets redacted)")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config FILE    Config file (default: search, then embedded default)")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println("  --port N         serve: override server.port")
	fmt.Println("  --json           check: print the result as JSON")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  WPM_* variables override the config file, e.g. WPM_THRESHOLD_SECONDS=0.5,")
	fmt.Println("  WPM_MATTERMOST_TOKEN, WPM_CACHE_BACKEND=redis. .env files are loaded from")
	fmt.Println("  ~/.config/perfmon/.env and the working directory.")
}
