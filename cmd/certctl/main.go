package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/certgate/internal/common"
	"example.com/certgate/internal/config"
	"example.com/certgate/internal/fonts"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var (
	configPath string
	debugLog   bool
	jsonOutput bool
	offline    bool

	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "certctl <command>",
	Short:         "Generate and verify attendee certificates",
	Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return usageError(fmt.Errorf("load config: %w", err))
		}
		if debugLog {
			loaded.Logs.Debug = true
		}
		l, err := common.NewLogger(loaded.Logs)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		cfg = loaded
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never download fonts; use the cache only")

	rootCmd.AddGroup(
		&cobra.Group{ID: "certs", Title: "Certificates:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	rootCmd.AddCommand(generateCmd, previewCmd, digestCmd, verifyCmd, reportCmd, fontsCmd, verifySignatureCmd)
}

// exitError carries the process exit status for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// usageError marks errors in the operator's input: bad flags, unreadable
// names or template, invalid configuration.
func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newResolver() *fonts.Resolver {
	cache := fonts.DirCache{Dir: cfg.Fonts.CacheDir}
	if offline {
		return fonts.NewResolver(nil, cache, logger)
	}
	return fonts.NewResolver(fonts.HTTPFetcher{}, cache, logger)
}

func openLedger(path string) *common.IssueLog {
	if path == "" {
		return nil
	}
	return common.NewIssueLog(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
