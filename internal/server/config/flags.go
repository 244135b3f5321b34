package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/nostr-scheduler/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     control HTTP bind address (e.g., ":8080")
//	-d string     database DSN
//	-l string     log level (debug, info, warn, error)
//	-w int        proof-of-work difficulty in bits
//	-t duration   per-phase publish timeout (e.g., "10s")
//	-i duration   signing queue interval (e.g., "30s")
//	-s string     scheduler cron expression
//	-e string     default API endpoint
//	-r string     default relays, comma separated
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the config file flag.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-l", "-w", "-t", "-i", "-s", "-e", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run the control server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.PowDifficulty, "w", config.PowDifficulty, "proof-of-work difficulty (bits)")
	fs.DurationVar(&config.PublishTimeout, "t", config.PublishTimeout, "publish timeout per phase")
	fs.DurationVar(&config.SigningInterval, "i", config.SigningInterval, "signing queue interval")
	fs.StringVar(&config.SchedulerCron, "s", config.SchedulerCron, "scheduler cron expression")
	fs.StringVar(&config.DefaultAPIEndpoint, "e", config.DefaultAPIEndpoint, "default API endpoint")
	relays := fs.String("r", strings.Join(config.DefaultRelays, ","), "default relays (comma separated)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DefaultRelays = splitList(*relays)
}
