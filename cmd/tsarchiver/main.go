// Time-series archiver CLI
// This application maintains a partitioned CSV archive of per-instrument
// time series: it registers instruments, plans which calendar periods are
// missing, fetches them from a data provider, and reports on archive
// coverage.
//
// Usage:
//
//	tsarchiver add --instruments EUR=,JPY=
//	tsarchiver status
//	tsarchiver plan --instruments EUR=
//	tsarchiver sync --instruments EUR=,JPY=
//	tsarchiver sync --every 30m
//
// For detailed help on any command, use: tsarchiver <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-timeseries-archiver/internal/config"
	"github.com/johnayoung/go-timeseries-archiver/internal/engine"
	"github.com/johnayoung/go-timeseries-archiver/internal/logger"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
	"github.com/johnayoung/go-timeseries-archiver/internal/provider"
	"github.com/johnayoung/go-timeseries-archiver/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "tsarchiver"
	ConfigFile = "tsarchiver.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess      = 0
	ExitUsageError   = 1
	ExitConfigError  = 2
	ExitStorageError = 3
	ExitSyncError    = 4
	ExitInterrupt    = 130
)

var (
	errUsage       = errors.New("usage error")
	errInterrupted = errors.New("interrupted")
	errIncomplete  = errors.New("sync finished with failures")
)

// CLI holds the wired application components.
type CLI struct {
	config     *config.AppConfig
	logManager *logger.LoggerManager
	logger     *slog.Logger
	store      *storage.CSVStore
	engine     *engine.Engine
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// Version and help need no configuration.
	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	// A .env file supplements the environment when present.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.logManager.Close()

	if err := cli.initStorage(); err != nil {
		cli.logger.Error("storage setup failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitStorageError)
	}

	var err error
	switch command {
	case "status":
		err = cli.handleStatus(ctx, args)
	case "add":
		err = cli.handleAdd(ctx, args)
	case "plan":
		err = cli.handlePlan(ctx, args)
	case "sync":
		err = cli.handleSync(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		if !errors.Is(err, errInterrupted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the process exit code.
func exitCode(err error) int {
	var storageErr *storage.StorageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errUsage):
		return ExitUsageError
	case errors.Is(err, errInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.As(err, &storageErr):
		return ExitStorageError
	default:
		return ExitSyncError
	}
}

// initialize loads configuration and sets up logging.
func (cli *CLI) initialize(ctx context.Context) error {
	cm := config.NewConfigManager(resolveConfigPath(), slog.Default())
	cfg, err := cm.LoadConfig(ctx)
	if err != nil {
		return err
	}
	cli.config = cfg

	logManager, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return err
	}
	cli.logManager = logManager
	cli.logger = logManager.GetComponentLogger("cli")
	return nil
}

// initStorage opens the archive store and wires the sync engine.
func (cli *CLI) initStorage() error {
	granularity, err := cli.config.Granularity()
	if err != nil {
		return err
	}

	store, err := storage.NewCSVStore(cli.config.Archive.Root, granularity, cli.logManager.GetLogger())
	if err != nil {
		return err
	}
	cli.store = store

	prov, err := cli.createProvider()
	if err != nil {
		return err
	}

	engineCfg, err := cli.config.EngineConfig()
	if err != nil {
		return err
	}

	sink := engine.StatusFunc(func(message string) {
		fmt.Fprintf(os.Stderr, "  %s\n", message)
	})
	eng, err := engine.New(store, prov, engineCfg, cli.logManager.GetLogger(), sink)
	if err != nil {
		return err
	}
	cli.engine = eng
	return nil
}

func (cli *CLI) createProvider() (provider.Provider, error) {
	switch cli.config.Provider.Type {
	case "synthetic":
		synthCfg, err := cli.config.SyntheticConfig()
		if err != nil {
			return nil, err
		}
		return provider.NewSyntheticProvider(synthCfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cli.config.Provider.Type)
	}
}

func resolveConfigPath() string {
	if path := os.Getenv("TSARCHIVER_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(ConfigFile); err == nil {
		return ConfigFile
	}
	return ""
}

// handleStatus prints per-instrument archive coverage.
func (cli *CLI) handleStatus(ctx context.Context, args []string) error {
	flags, err := parseStatusFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("status")
		return nil
	}

	if err := cli.engine.LoadIndex(ctx); err != nil {
		return err
	}

	summaries := cli.store.Summaries()
	fmt.Printf("Archive %s (%s)\n\n", cli.config.Archive.Root, cli.config.Archive.Granularity)
	if len(summaries) == 0 {
		fmt.Println("No instruments registered. Use 'tsarchiver add' first.")
		return nil
	}

	fmt.Printf("%-16s %-21s %-21s %8s %8s\n",
		"INSTRUMENT", "FIRST OBSERVED", "LAST OBSERVED", "CHUNKS", "MISSING")
	fmt.Println(strings.Repeat("-", 78))
	for _, s := range summaries {
		first, last := "-", "-"
		if !s.Empty {
			first = s.FirstObserved.Format("2006-01-02 15:04:05")
			last = s.LastObserved.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-16s %-21s %-21s %8d %8d\n",
			s.Instrument, first, last, s.ChunkCount, s.MissingChunks)
	}
	fmt.Printf("\n%d instruments registered\n", len(summaries))
	return nil
}

// handleAdd registers instruments with the archive.
func (cli *CLI) handleAdd(ctx context.Context, args []string) error {
	flags, err := parseAddFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("add")
		return nil
	}
	if len(flags.Instruments) == 0 {
		return fmt.Errorf("%w: --instruments is required", errUsage)
	}

	if err := cli.engine.LoadIndex(ctx); err != nil {
		return err
	}
	if err := cli.engine.AddInstruments(ctx, flags.Instruments); err != nil {
		return err
	}

	fmt.Printf("✅ Registered %d instruments: %s\n",
		len(flags.Instruments), strings.Join(flags.Instruments, ", "))
	return nil
}

// handlePlan shows what a sync would fetch, without fetching.
func (cli *CLI) handlePlan(ctx context.Context, args []string) error {
	flags, err := parsePlanFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("plan")
		return nil
	}

	if err := cli.engine.LoadIndex(ctx); err != nil {
		return err
	}

	summaries, err := cli.engine.DryRun(ctx, flags.Instruments...)
	if err != nil {
		return err
	}

	fmt.Printf("Plan for %s (%s)\n\n", cli.config.Archive.Root, cli.config.Archive.Granularity)
	fmt.Printf("%-16s %10s %12s %-21s %-21s\n",
		"INSTRUMENT", "PERIODS", "IN PROGRESS", "FIRST", "LAST")
	fmt.Println(strings.Repeat("-", 84))

	total := 0
	for _, s := range summaries {
		first, last := "-", "-"
		if s.Periods > 0 {
			first = s.First.Format("2006-01-02 15:04:05")
			last = s.Last.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-16s %10d %12d %-21s %-21s\n",
			s.Instrument, s.Periods, s.Incomplete, first, last)
		total += s.Periods
	}
	if total == 0 {
		fmt.Println("\nArchive is up to date.")
	} else {
		fmt.Printf("\n%d periods would be fetched\n", total)
	}
	return nil
}

// handleSync runs one sync, or a periodic one with --every.
func (cli *CLI) handleSync(ctx context.Context, args []string) error {
	flags, err := parseSyncFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("sync")
		return nil
	}

	if err := cli.engine.LoadIndex(ctx); err != nil {
		return err
	}

	// Instruments declared in the configuration are kept registered.
	if len(cli.config.Archive.Instruments) > 0 {
		if err := cli.engine.AddInstruments(ctx, cli.config.Archive.Instruments); err != nil {
			return err
		}
	}

	selection := flags.Instruments
	if len(selection) == 0 {
		selection = cli.config.Archive.Instruments
	}

	every, err := cli.config.SyncEvery()
	if err != nil {
		return err
	}
	if flags.Every != "" {
		every, err = time.ParseDuration(flags.Every)
		if err != nil || every <= 0 {
			return fmt.Errorf("%w: --every needs a positive duration, got %q", errUsage, flags.Every)
		}
	}

	if every > 0 {
		return cli.runPeriodic(ctx, every, selection)
	}

	report, err := cli.engine.Sync(ctx, selection...)
	if err != nil {
		return err
	}
	cli.printReport(report)

	if report.State == models.SyncCancelled {
		return errInterrupted
	}
	if failures := report.Counters.FailedPeriods + report.Counters.StorageErrors + report.Counters.InvalidAborts; failures > 0 {
		return fmt.Errorf("%w: %d problems, see the report above", errIncomplete, failures)
	}
	return nil
}

func (cli *CLI) runPeriodic(ctx context.Context, every time.Duration, selection []string) error {
	scheduler, err := engine.NewScheduler(cli.engine, every, cli.logManager.GetLogger())
	if err != nil {
		return err
	}

	fmt.Printf("Syncing every %s; press Ctrl-C to stop.\n", every)
	if err := scheduler.Run(ctx, selection...); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nStopped.")
			return errInterrupted
		}
		return err
	}
	return nil
}

func (cli *CLI) printReport(report *models.SyncReport) {
	c := report.Counters

	lead := "✅"
	if c.FailedPeriods+c.StorageErrors+c.InvalidAborts > 0 {
		lead = "⚠️"
	}
	if report.State == models.SyncCancelled {
		lead = "✋"
	}

	fmt.Printf("\n%s Sync %s in %s\n", lead, report.State, report.Duration().Round(time.Millisecond))
	fmt.Printf("   periods planned:  %d (skipped %d already stored)\n", c.PeriodsPlanned, c.SkippedExisting)
	fmt.Printf("   chunks written:   %d (%d confirmed empty)\n", c.ChunksWritten, c.EmptyChunks)
	fmt.Printf("   rows written:     %d\n", c.RowsWritten)
	fmt.Printf("   fetch attempts:   %d (%d throttle cooldowns)\n", c.FetchAttempts, c.ThrottleWaits)
	if c.FailedPeriods > 0 {
		fmt.Printf("   failed periods:   %d\n", c.FailedPeriods)
	}
	if c.StorageErrors > 0 {
		fmt.Printf("   storage errors:   %d\n", c.StorageErrors)
	}
	if c.InvalidAborts > 0 {
		fmt.Printf("   aborted instruments: %d\n", c.InvalidAborts)
	}
}

// Command flags

type statusFlags struct {
	Help bool
}

type addFlags struct {
	Instruments []string
	Help        bool
}

type planFlags struct {
	Instruments []string
	Help        bool
}

type syncFlags struct {
	Instruments []string
	Every       string
	Help        bool
}

func parseStatusFlags(args []string) (*statusFlags, error) {
	flags := &statusFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("%w: unknown flag %q", errUsage, args[i])
		}
	}
	return flags, nil
}

func parseAddFlags(args []string) (*addFlags, error) {
	flags := &addFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: --instruments requires a value", errUsage)
			}
			flags.Instruments = splitInstruments(args[i+1])
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("%w: unknown flag %q", errUsage, args[i])
		}
	}
	return flags, nil
}

func parsePlanFlags(args []string) (*planFlags, error) {
	flags := &planFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: --instruments requires a value", errUsage)
			}
			flags.Instruments = splitInstruments(args[i+1])
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("%w: unknown flag %q", errUsage, args[i])
		}
	}
	return flags, nil
}

func parseSyncFlags(args []string) (*syncFlags, error) {
	flags := &syncFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--instruments", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: --instruments requires a value", errUsage)
			}
			flags.Instruments = splitInstruments(args[i+1])
			i++
		case "--every", "-e":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: --every requires a value", errUsage)
			}
			flags.Every = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("%w: unknown flag %q", errUsage, args[i])
		}
	}
	return flags, nil
}

func splitInstruments(value string) []string {
	parts := strings.Split(value, ",")
	instruments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			instruments = append(instruments, trimmed)
		}
	}
	return instruments
}

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Time-series archive maintainer v%s

USAGE:
    %s <command> [options]

COMMANDS:
    add         Register instruments with the archive
    status      Show per-instrument archive coverage
    plan        Show which periods a sync would fetch
    sync        Fetch missing periods into the archive

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Register two instruments
    %s add --instruments EUR=,JPY=

    # Inspect what is stored and what is missing
    %s status
    %s plan

    # One sync pass over every registered instrument
    %s sync

    # Keep the archive fresh, re-syncing every 30 minutes
    %s sync --every 30m

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format), or TSARCHIVER_CONFIG=<path>
    - Environment variables: TSARCHIVER_* (e.g. TSARCHIVER_ARCHIVE_ROOT)
    - A .env file in the working directory

    Example config file:
    {
        "archive": {"root": "archive", "granularity": "daily"},
        "sync": {"min_call_spacing": "100ms"},
        "logging": {"level": "info"}
    }

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "status":
		fmt.Printf(`%s status - Show per-instrument archive coverage

USAGE:
    %s status

Rebuilds the index from the files on disk and prints one line per
instrument: first and last observed row timestamps, the number of chunk
files, and how many calendar periods inside that range have no file.
`, AppName, AppName)
	case "add":
		fmt.Printf(`%s add - Register instruments with the archive

USAGE:
    %s add --instruments <id>[,<id>...]

OPTIONS:
    --instruments, -i   Comma-separated instrument identifiers

Creates the per-instrument directory so that sync includes it. Adding an
already-registered instrument is harmless.
`, AppName, AppName)
	case "plan":
		fmt.Printf(`%s plan - Show which periods a sync would fetch

USAGE:
    %s plan [--instruments <id>[,<id>...]]

OPTIONS:
    --instruments, -i   Limit the plan to these instruments

Prints, per instrument, how many periods a sync would fetch right now,
how many of them are still in progress, and the first and last period
starts. Nothing is fetched or written.
`, AppName, AppName)
	case "sync":
		fmt.Printf(`%s sync - Fetch missing periods into the archive

USAGE:
    %s sync [options]

OPTIONS:
    --instruments, -i   Sync only these instruments (default: the
                        configured list, or every registered instrument)
    --every, -e         Keep running, re-syncing on this interval

Each missing period is fetched once and written immediately, so an
interrupted sync keeps its progress. Periods still in progress are
always re-fetched. The exit code is %d when any period failed, and %d
when interrupted.
`, AppName, AppName, ExitSyncError, ExitInterrupt)
	default:
		fmt.Fprintf(os.Stderr, "No help available for unknown command '%s'\n\n", command)
		printUsage()
	}
}
