package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"example.com/commerce/cmd"
)

func main() {
	// Execute the root command
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute command")
		os.Exit(1)
	}
}
