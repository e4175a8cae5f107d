package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/unklstewy/uav-fleet/internal/app"
	"github.com/unklstewy/uav-fleet/pkg/config"
	fleetlog "github.com/unklstewy/uav-fleet/pkg/log"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	backend := flag.String("backend", "", "Vehicle backend: sim or mavlink (overrides config)")
	targets := flag.String("targets", "", "Comma-separated vehicle targets (overrides config)")
	autoConnect := flag.Bool("connect", false, "Connect every target on start")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleet-console version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *backend != "" {
		cfg.Fleet.Backend = strings.ToLower(*backend)
	}
	if *targets != "" {
		cfg.Fleet.Targets = config.ParseTargets(*targets)
	}

	// The terminal belongs to tview; keep log records in the file only.
	logOpts := cfg.Logging.LogOptions()
	logOpts.Stderr = false
	lg := fleetlog.New(logOpts)
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer core.Close()

	console := NewApp(core)
	console.connectOnStart = *autoConnect

	if err := console.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func printHelp() {
	fmt.Println("fleet-console - interactive UAV fleet console")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fleet-console [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string    Path to configuration file (default: configs/config.json)")
	fmt.Println("  -backend string   Vehicle backend: sim or mavlink")
	fmt.Println("  -targets string   Comma-separated vehicle targets")
	fmt.Println("  -connect          Connect every target on start")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help             Show this help message")
	fmt.Println()
	fmt.Println("Type commands into the command line, for example:")
	fmt.Println("  connect")
	fmt.Println("  arm-all")
	fmt.Println("  takeoff-all 10")
	fmt.Println("  goto 0 5 0 -2")
	fmt.Println("  rtl-all")
	fmt.Println()
	fmt.Println("Log records go to the file configured under logging.")
}
