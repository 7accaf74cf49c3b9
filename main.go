// Package main provides the entry point for the tunnel client.
// tunnelclient keeps an OpenVPN connection alive: it retries transient
// failures, rotates through the configured remotes, and stops with a
// specific diagnosis on fatal errors such as authentication failure.
//
// Usage:
//
//	tunnelclient [options]
//
// Environment:
//
//	The client requires OpenVPN to be installed on the system.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/skobel/tunnelclient/cli"
	"github.com/skobel/tunnelclient/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z).
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	configPath  = flag.String("config", "", "Configuration file path")
	checkConfig = flag.Bool("check", false, "Validate the configuration and exit")
	showStats   = flag.Bool("stats", false, "Show persisted error counters and exit")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Show version and exit")
	showHelp    = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	app, err := cli.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(app, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
	}
	defer common.CloseLogger()

	switch {
	case *checkConfig:
		err = app.CheckConfig()
	case *showStats:
		err = app.ShowStats()
	default:
		err = app.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(app *cli.CLI, verbose bool) error {
	cfg := app.Config()
	level := common.ParseLogLevel(cfg.Log.Level)
	if verbose {
		level = common.LevelDebug
	}
	return common.InitLogger(common.LogConfig{
		Level:      level,
		EnableFile: cfg.Log.EnableFile,
	})
}
