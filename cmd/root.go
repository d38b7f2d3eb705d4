package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/itsmostafa/goverticle/internal/config"
	"github.com/itsmostafa/goverticle/internal/logging"
	"github.com/itsmostafa/goverticle/internal/version"
	"github.com/spf13/cobra"
)

var (
	envConfig config.Config
	envErr    error
)

var logLevel string
var logFormat string

var rootCmd = &cobra.Command{
	Use:   "goverticle",
	Short: "Run JavaScript and Lua verticles on embedded engines",
	Long: `goverticle deploys script files as isolated verticles. Every verticle
created from the same language shares one embedded engine (goja for .js,
gopher-lua for .lua) but keeps its own top-level namespace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return envErr
	},
}

func init() {
	envConfig, envErr = config.Load()
	if envErr != nil {
		// Flags still need defaults; the error is reported before any command runs.
		envConfig, _ = config.LoadFrom(map[string]string{})
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("goverticle %s\n", version.String()))

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envConfig.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envConfig.LogFormat, "Log format (console, json)")
}

func newLogger(w io.Writer) (logging.Logger, error) {
	return logging.New(w, logLevel, logging.Format(logFormat))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
