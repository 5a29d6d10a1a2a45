package main

import (
	"fmt"
	"net/url"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/uam/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write config.yaml interactively",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

func validateWebSocketURL(optional bool) func(string) error {
	return func(s string) error {
		if s == "" && optional {
			return nil
		}
		u, err := url.Parse(s)
		if err != nil {
			return err
		}
		if u.Scheme != "ws" && u.Scheme != "wss" || u.Host == "" {
			return fmt.Errorf("enter a ws:// or wss:// URL")
		}
		return nil
	}
}

func RunSetup() {
	logger.Info("Starting uam setup...")

	v := viper.GetViper()
	backendURL := v.GetString(config.KeyBackendURL)
	upstreamURL := v.GetString(config.KeyUpstreamURL)
	streamID := v.GetString(config.KeyStreamID)
	httpAddr := v.GetString(config.KeyHTTPAddr)
	useTUI := v.GetBool(config.KeyTUI)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("ASR backend URL").
				Placeholder("ws://localhost:8000/asr").
				Validate(validateWebSocketURL(false)).
				Value(&backendURL),
			huh.NewInput().
				Title("Meeting platform URL (blank for webhooks only)").
				Validate(validateWebSocketURL(true)).
				Value(&upstreamURL),
			huh.NewInput().
				Title("Default stream ID").
				Value(&streamID),
			huh.NewInput().
				Title("HTTP listen address").
				Value(&httpAddr),
			huh.NewConfirm().
				Title("Show the terminal UI?").
				Value(&useTUI),
		),
	)

	if err := form.Run(); err != nil {
		logger.Fatal("Error during setup", "error", err)
	}

	err := config.Save(v, ".", map[string]any{
		config.KeyBackendURL:  backendURL,
		config.KeyUpstreamURL: upstreamURL,
		config.KeyStreamID:    streamID,
		config.KeyHTTPAddr:    httpAddr,
		config.KeyTUI:         useTUI,
	})
	if err != nil {
		logger.Fatal("Error saving configuration", "error", err)
	}

	logger.Info("Setup completed successfully!")
}
