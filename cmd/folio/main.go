package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/meigma/folio/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string

	libraryDir   string
	cacheDir     string
	logLevel     string
	logFormat    string
	concurrency  int
	maxEntrySize uint64
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Random-access reader for comic and manga archives",
	Long: `folio indexes ZIP and CBZ archives by reading only their Central Directory
and extracts individual pages on demand.

Archives may be local files or http(s) URLs served with range request support.
A library directory of archives and image folders can be listed by title and
chapter.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("library") {
			cfg.LibraryDir = libraryDir
		}
		if flags.Changed("cache-dir") {
			cfg.CacheDir = cacheDir
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if flags.Changed("concurrency") {
			cfg.Concurrency = concurrency
		}
		if flags.Changed("max-entry-size") {
			cfg.MaxEntrySize = maxEntrySize
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, _ := config.ParseLevel(cfg.LogLevel) //nolint:errcheck // validated above
		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}
		slog.SetDefault(slog.New(handler))

		slog.Debug("Configuration",
			"library_dir", cfg.LibraryDir,
			"cache_dir", cfg.CacheDir,
			"concurrency", cfg.Concurrency,
			"max_entry_size", cfg.MaxEntrySize,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is folio.yaml in home or pwd)")
	flags.StringVarP(&libraryDir, "library", "L", "", "library root directory")
	flags.StringVar(&cacheDir, "cache-dir", "", "directory for persisted archive indexes")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (text, json)")
	flags.IntVarP(&concurrency, "concurrency", "j", 0, "concurrent extractions (0 uses all CPUs)")
	flags.Uint64Var(&maxEntrySize, "max-entry-size", 0, "largest entry to extract in bytes (0 disables the limit)")

	rootCmd.AddCommand(entriesCmd, chaptersCmd, extractCmd, libraryCmd)
}
