// Command fleetctl connects the configured fleet, runs a sequence of
// commands given as arguments and disconnects.
//
//	fleetctl -backend sim -targets sim://vehicle_1,sim://vehicle_2 \
//	    arm-all takeoff-all 10 goto 0 5 0 -2 status rtl-all
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/unklstewy/uav-fleet/internal/app"
	"github.com/unklstewy/uav-fleet/internal/cli"
	"github.com/unklstewy/uav-fleet/pkg/config"
	fleetlog "github.com/unklstewy/uav-fleet/pkg/log"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configPath  string
	backend     string
	targets     string
	keepGoing   bool
	showVersion bool
	showHelp    bool
	commands    []cli.Command
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("fleetctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to configuration file")
	fs.StringVar(&opts.backend, "backend", "", "Vehicle backend: sim or mavlink (overrides config)")
	fs.StringVar(&opts.targets, "targets", "", "Comma-separated vehicle targets (overrides config)")
	fs.BoolVar(&opts.keepGoing, "k", false, "Keep running commands after one fails")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showHelp, "help", false, "Show help information")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cmds, err := cli.Parse(fs.Args())
	if err != nil {
		return nil, err
	}
	opts.commands = cmds
	return opts, nil
}

// apply folds the command-line overrides into cfg.
func (o *options) apply(cfg *config.Config) {
	if o.backend != "" {
		cfg.Fleet.Backend = strings.ToLower(o.backend)
	}
	if o.targets != "" {
		cfg.Fleet.Targets = config.ParseTargets(o.targets)
	}
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("fleetctl version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}
	if opts.showHelp || len(opts.commands) == 0 {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	opts.apply(cfg)

	lg := fleetlog.New(cfg.Logging.LogOptions())
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	fmt.Printf("Connecting %d target(s) via %s...\n", len(cfg.Fleet.Targets), cfg.Fleet.Backend)
	n := a.Registry.ConnectAll(ctx)
	fmt.Printf("Connected %d of %d\n", n, len(cfg.Fleet.Targets))

	code := run(ctx, &cli.Executor{Registry: a.Registry, Sampler: a.Sampler}, opts.commands, opts.keepGoing, os.Stdout)
	if code != 0 {
		a.Close()
		lg.Close()
		os.Exit(code)
	}
}

// run executes cmds in order and prints each result. It returns the process
// exit code.
func run(ctx context.Context, e *cli.Executor, cmds []cli.Command, keepGoing bool, out io.Writer) int {
	code := 0
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "Interrupted")
			return 130
		}

		text, err := e.Execute(ctx, cmd)
		if text != "" {
			fmt.Fprintln(out, text)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			code = 1
			if !keepGoing {
				return code
			}
		}
	}
	return code
}

func printHelp() {
	fmt.Println("fleetctl - UAV fleet command coordinator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fleetctl [options] COMMAND [ARGS] [COMMAND [ARGS]...]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string    Path to configuration file (default: configs/config.json)")
	fmt.Println("  -backend string   Vehicle backend: sim or mavlink")
	fmt.Println("  -targets string   Comma-separated vehicle targets")
	fmt.Println("  -k                Keep running commands after one fails")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help             Show this help message")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Print(cli.Usage())
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  sim://vehicle_N             Simulated vehicle")
	fmt.Println("  udp:0.0.0.0:14550           Listen for a vehicle on UDP")
	fmt.Println("  udpout:192.168.1.10:14550   Send to a vehicle over UDP")
	fmt.Println("  tcp:127.0.0.1:5760          Connect to a SITL instance")
	fmt.Println("  /dev/ttyUSB0:57600          Serial telemetry radio")
	fmt.Println()
	fmt.Println("Vehicles are numbered by target order. The fleet connects before")
	fmt.Println("the first command and disconnects after the last.")
}
