// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the protocol-extractor CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/protocol-extractor/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is configured from --verbose before any command runs.
var logger = slog.New(slog.DiscardHandler)

// envKeys are the nested configuration keys that may be set from
// PROTOCOL_EXTRACTOR_* environment variables.
var envKeys = []string{
	"extraction.backend",
	"extraction.model",
	"extraction.api_key",
	"extraction.base_url",
	"extraction.records_dir",
	"extraction.inter_field_delay",
	"extraction.tokens_per_minute",
	"extraction.max_attempts",
	"quality.confidence_threshold",
	"quality.completeness_threshold",
	"vector.store",
	"vector.index_dir",
	"vector.dsn",
	"vector.similarity_threshold",
	"vector.embedding.backend",
	"vector.embedding.model",
	"vector.embedding.base_url",
	"vector.embedding.api_key",
	"acquisition.base_url",
	"acquisition.user_agent",
	"acquisition.requests_per_second",
	"acquisition.max_studies",
	"acquisition.min_completeness",
}

// rootCmd is the base command for the protocol-extractor CLI.
var rootCmd = &cobra.Command{
	Use:   "protocol-extractor",
	Short: "Structured field extraction from clinical trial protocols",
	Long: `protocol-extractor converts long clinical trial protocol documents into a
fixed nine-field record (study overview, objectives, treatment arms,
eligibility, enrollment, adverse events, locations, sponsor, description).

A cheap structural parse runs first; when the quality scorer finds the result
incomplete or low-confidence, each field is extracted by a language model from
a token-budgeted chunk of the most relevant text. Records can be indexed for
filtered similarity search across studies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", slog.Any("keys", keys))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./protocol-extractor.yaml or ~/.config/protocol-extractor/protocol-extractor.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("protocol-extractor")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "protocol-extractor"))
		}
	}

	// .env values never override variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}

	viper.SetEnvPrefix("PROTOCOL_EXTRACTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
