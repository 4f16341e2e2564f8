package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kvrun/internal/backend"
)

var (
	logLevel  string
	logFormat string
	debug     bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// modelOptions are the flags shared by every command that opens a context
// binary on a backend.
type modelOptions struct {
	model          string
	backend        string
	devices        string
	vocab          string
	executeTimeout time.Duration

	// provider replaces the --backend lookup when set.
	provider backend.Provider
}

func (o *modelOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to the context binary",
			Destination: &o.model,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, aic, reference)",
			Value:       backend.Auto,
			Destination: &o.backend,
		},
		&cli.StringFlag{
			Name:        "devices",
			Usage:       "comma-separated device ids; empty lets the backend pick",
			Destination: &o.devices,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "vocabulary file in tokens.bin layout (default: embedded section, then tokens.bin)",
			Destination: &o.vocab,
		},
		&cli.DurationFlag{
			Name:        "execute-timeout",
			Usage:       "deadline for each graph execute (0 disables)",
			Destination: &o.executeTimeout,
		},
	}
}

// parseDevices parses a comma-separated device list.
func parseDevices(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid device id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
