package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/steer/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:   "steer",
		Usage:  "Constrained generation with decode-time mods",
		Flags:  loggingFlags(),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyLoggingConfig(cmd, LoadConfig())
	log, err := logger.Setup(logger.Options{
		Format: logger.Format(logFormat),
		Level:  logLevel,
		Debug:  debug,
	})
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
