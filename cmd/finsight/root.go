package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/finsight/internal/bootstrap"
	"github.com/spherical-ai/finsight/internal/config"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	noColor  bool
	jsonMode bool
)

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "Financial document processing pipeline",
	Long: `finsight turns bank statements, GST returns, profit and loss statements,
salary slips and other financial documents into structured data and reports.

Documents can be processed locally or queued for a worker pool.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// a missing .env is fine
		_ = godotenv.Load()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(workerCmd, processCmd, submitCmd, batchCmd, statusCmd, runsCmd)
}

// cliLogger writes to stderr so stdout stays clean for results.
func cliLogger(cfg *config.Config) *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

func openApp(ctx context.Context, opts bootstrap.Options) (*bootstrap.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, cliLogger(cfg), opts)
}

// readSubmission loads path into a submission. declared may be empty.
func readSubmission(path, declared string) (domain.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.Submission{
		Filename:     filepath.Base(path),
		Content:      base64.StdEncoding.EncodeToString(data),
		MimeType:     mime.TypeByExtension(filepath.Ext(path)),
		DeclaredType: declared,
	}, nil
}

func readSubmissions(paths []string, declared string) ([]domain.Submission, error) {
	subs := make([]domain.Submission, 0, len(paths))
	for _, p := range paths {
		sub, err := readSubmission(p, declared)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
