package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "tickerfan"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Real-time market-data fan-out service",
		Long: `tickerfan mediates between crypto and equities venues and WebSocket
clients, multiplexing each distinct (market, provider, symbol, stream)
view across every subscriber and falling back to REST polling where a
venue has no native stream.`,
	}

	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("tickerfan: fatal startup error")
		os.Exit(1)
	}
}
