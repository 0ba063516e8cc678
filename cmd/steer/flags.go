package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/logits"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	maxTokens     int64
	temperature   float64
	topP          float64
	topK          int64
	seed          int64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64

	vocabPath string
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

func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "path to a greedy vocabulary JSON file (default: built-in ASCII vocabulary)",
			Destination: &vocabPath,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "visible tokens to generate per request",
			Value:       128,
			Destination: &maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Destination: &temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "top_p sampling parameter",
			Destination: &topP,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k"},
			Usage:       "top-k sampling parameter (0 = disabled)",
			Destination: &topK,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "backend and sampler seed",
			Destination: &seed,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p"},
			Usage:       "min_p sampling parameter (0.0 = disabled)",
			Destination: &minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1,
			Destination: &repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n tokens to penalize",
			Value:       64,
			Destination: &repeatLastN,
		},
	}
}

// generationDefaults returns the config built from the generation flags.
func generationDefaults(log logger.Logger) generate.Config {
	return generate.Config{
		MaxTokens: int(maxTokens),
		Params: logits.Params{
			Temperature: float32(temperature),
			TopP:        float32(topP),
			TopK:        int(topK),
		},
		Log: log,
	}
}

func samplerConfig(seed int64) logits.SamplerConfig {
	return logits.SamplerConfig{
		Seed:          seed,
		MinP:          float32(minP),
		RepeatPenalty: float32(repeatPenalty),
		RepeatLastN:   int(repeatLastN),
	}
}
