// Package main implements the bookstore-sync binary: an inventory-sync
// backend that tracks catalog changes in PostgreSQL and serves them to
// external pollers over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/hatssoftware/bookstore-sync/internal/catalog"
	"github.com/hatssoftware/bookstore-sync/internal/db"
	"github.com/hatssoftware/bookstore-sync/internal/log"
	"github.com/hatssoftware/bookstore-sync/internal/server"
)

// Config holds the application configuration
type Config struct {
	PostgresDSN    string `short:"p" env:"BOOKSTORE_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string"`
	ListenAddr     string `short:"a" env:"BOOKSTORE_LISTEN_ADDR" long:"listen-addr" description:"HTTP listen address" default:":5000"`
	CSVPath        string `env:"BOOKSTORE_CSV_PATH" long:"csv-path" description:"Path to the CSV catalog snapshot" default:"data/data.csv"`
	LogLevel       string `short:"l" env:"BOOKSTORE_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	MutateOnce     bool   `long:"mutate-once" description:"Run a single mutation batch and exit (for cron)"`
	MutateCount    int    `long:"mutate-count" description:"Books per mutation batch" default:"50"`
	MutateInterval string `long:"mutate-interval" description:"Interval for in-process mutation batches, 0 disables" default:"0"`
	Version        bool   `short:"v" long:"version" description:"Show version information"`
	Help           bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("bookstore-sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("bookstore-sync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	mutateInterval, err := time.ParseDuration(config.MutateInterval)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid mutate interval format")
	}

	// Connect to PostgreSQL with retry logic
	pgPool, err := db.NewWithRetry(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to PostgreSQL after retries")
	}
	defer pgPool.Close()

	if err := db.ApplyMigrations(ctx, pgPool); err != nil {
		logrus.WithError(err).Fatal("Failed to apply database migrations")
	}

	mutator := catalog.NewMutator(pgPool, catalog.DefaultMutatorConfig(), nil)

	// One-shot mode for cron: run a single mutation batch and exit
	if config.MutateOnce {
		summary, err := mutator.Mutate(ctx, config.MutateCount)
		if err != nil {
			logrus.WithError(err).Fatal("Mutation batch failed")
		}
		logrus.WithFields(logrus.Fields{
			"modified": summary.Modified,
			"prices":   summary.PriceChanges,
			"stocks":   summary.StockChanges,
			"ratings":  summary.RatingChanges,
		}).Info("Mutation batch completed, exiting")
		return
	}

	if mutateInterval > 0 {
		go func() {
			if err := mutator.RunPeriodic(ctx, mutateInterval, config.MutateCount); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("Mutation loop terminated")
			}
		}()
	}

	handlers := server.New(pgPool, mutator, config.CSVPath, version)
	httpServer := &http.Server{
		Addr:         config.ListenAddr,
		Handler:      handlers.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.WithField("addr", httpServer.Addr).Info("Starting bookstore-sync HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()

	logrus.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Graceful shutdown completed")
}
