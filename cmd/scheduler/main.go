package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
