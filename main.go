package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/uam/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().String("upstream-url", "", "Meeting platform websocket URL")
	runCmd.Flags().String("backend-url", "", "ASR backend websocket URL")
	runCmd.Flags().String("stream-id", "default", "Session for audio that names none")
	runCmd.Flags().String("http-addr", ":8081", "HTTP listen address")
	runCmd.Flags().Duration("grace-delay", 0, "Wait before closing a finished speaker channel")
	runCmd.Flags().Bool("tui", false, "Show the terminal UI")

	statusCmd.Flags().String("addr", "http://localhost:8081", "Address of a running relay")

	viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag(config.KeyUpstreamURL, runCmd.Flags().Lookup("upstream-url"))
	viper.BindPFlag(config.KeyBackendURL, runCmd.Flags().Lookup("backend-url"))
	viper.BindPFlag(config.KeyStreamID, runCmd.Flags().Lookup("stream-id"))
	viper.BindPFlag(config.KeyHTTPAddr, runCmd.Flags().Lookup("http-addr"))
	viper.BindPFlag(config.KeyGraceDelay, runCmd.Flags().Lookup("grace-delay"))
	viper.BindPFlag(config.KeyTUI, runCmd.Flags().Lookup("tui"))
}

func initConfig() {
	if err := config.Init(viper.GetViper(), "."); err != nil {
		fmt.Printf("Error reading config file: %s\n", err)
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "uam",
	Short: "uam relays meeting audio to a speech recognition backend",
	Long: `uam takes a meeting's per-speaker audio, forwards each speaker to its own
ASR backend connection, and merges the transcripts into one ordered view.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func createLoggers(
	level log.Level,
) (mainLogger, rtmsLogger, muxLogger, asrLogger, httpLogger *log.Logger) {
	logger.SetLevel(level)
	logger.SetReportCaller(level == log.DebugLevel)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	rtmsLogger = logger.With().WithPrefix("rtms")
	muxLogger = logger.With().WithPrefix("mux")
	asrLogger = logger.With().WithPrefix("asr")
	httpLogger = logger.With().WithPrefix("http")

	return
}
