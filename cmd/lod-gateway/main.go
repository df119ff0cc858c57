package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/opencollections/lod-gateway/gatewayservice"
)

func main() {
	if err := gatewayservice.Run(); err != nil {
		log.Error().Err(err).Msg("lod-gateway exited with error")
		os.Exit(1)
	}
}
