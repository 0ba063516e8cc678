package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/samcharles93/steer/internal/api"
	"github.com/samcharles93/steer/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		limit       float64
		burst       int64
		storeLimit  int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generations REST API",
		Flags: append(generationFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate",
				Usage:       "generations per second (0 = unlimited)",
				Value:       10,
				Destination: &limit,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "rate limiter burst",
				Value:       20,
				Destination: &burst,
			},
			&cli.Int64Flag{
				Name:        "store-limit",
				Usage:       "generations kept for GET (0 = unbounded)",
				Value:       1024,
				Destination: &storeLimit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr, &limit, &burst)

			tab, err := loadTable()
			if err != nil {
				return err
			}
			service := api.NewGenerationService(tab, toyBackends(tab), generationDefaults(log), seed)
			server := api.NewServer(api.NewGenerationStore(int(storeLimit)), service, newLimiter(limit, burst), log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "rate", limit, "burst", burst)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// newLimiter returns nil when limit is not positive.
func newLimiter(limit float64, burst int64) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), int(burst))
}
