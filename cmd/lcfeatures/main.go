package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/lightcurve.report/internal/config"
	"github.com/banshee-data/lightcurve.report/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}
	command, rest := args[0], args[1:]

	var err error
	switch command {
	case "fit":
		err = handleFit(ctx, rest, stdout)
	case "build":
		err = handleBuild(ctx, rest, stdout)
	case "crossval":
		err = handleCrossVal(ctx, rest, stdout)
	case "serve":
		err = handleServe(ctx, rest)
	case "migrate":
		err = handleMigrate(rest, stdout)
	case "version":
		fmt.Fprintf(stdout, "lcfeatures %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "lcfeatures %s: %v\n", command, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `lcfeatures - supernova light-curve feature extraction

Usage: lcfeatures <command> [options]

Commands:
  fit        Process one light-curve file and print its outcome
  build      Build the data matrix for every object in the sample list
  crossval   Cross-validate a data matrix with PCA + nearest neighbour
  serve      Run the HTTP API
  migrate    Manage the SQLite schema (up, down, status, version, force)
  version    Show version
  help       Show this help message

Every command accepts --config <file> (default %s).
Settings can be overridden with %s environment variables, for example
%sFIT_MODE=mcmc or %sMCMC__WALKERS=32.
`, config.DefaultConfigPath, config.EnvPrefix, config.EnvPrefix, config.EnvPrefix)
}

// commonFlags registers --config on fs.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", config.DefaultConfigPath, "Configuration file (.yaml)")
}
