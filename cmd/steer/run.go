package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/steer/internal/generate"
	"github.com/samcharles93/steer/internal/job"
	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/trace"
)

var errRequestsFailed = errors.New("run: requests failed")

func runCmd() *cli.Command {
	var (
		jobPath     string
		tracePath   string
		actionsOnly bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a batch job file and print one JSON outcome per request",
		Flags: append(generationFlags(),
			&cli.StringFlag{
				Name:        "job",
				Aliases:     []string{"j"},
				Usage:       "path to job.yaml",
				Required:    true,
				Destination: &jobPath,
			},
			&cli.StringFlag{
				Name:        "trace",
				Usage:       "write event/action records as JSON lines to this file",
				Destination: &tracePath,
			},
			&cli.BoolFlag{
				Name:        "trace-actions-only",
				Usage:       "only record actions in --trace",
				Destination: &actionsOnly,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyGenerationConfig(cmd, LoadConfig())

			j, err := job.Load(jobPath)
			if err != nil {
				return err
			}

			opts := runOptions{Log: log, ActionsOnly: actionsOnly}
			if tracePath != "" {
				f, err := os.Create(tracePath)
				if err != nil {
					return fmt.Errorf("create trace: %w", err)
				}
				defer func() { _ = f.Close() }()
				opts.Trace = f
			}
			return runJob(ctx, j, os.Stdout, opts)
		},
	}
}

type runOptions struct {
	Log         logger.Logger
	Trace       io.Writer
	ActionsOnly bool
}

// runJob runs every request of j in one batch and writes outcomes to out in
// request order.
func runJob(ctx context.Context, j *job.Job, out io.Writer, opts runOptions) error {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	tab, err := loadTable()
	if err != nil {
		return err
	}
	cfg, jobSeed := j.Sampling.Apply(generationDefaults(log), seed)
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", job.ErrInvalidJob)
	}

	reqs := make([]generate.Request, 0, len(j.Requests))
	for i, r := range j.Requests {
		req, err := r.Build(tab)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		reqs = append(reqs, req)
	}

	var rec *trace.Recorder
	if opts.Trace != nil {
		rec = trace.NewRecorder(tab)
		rec.ActionsOnly = opts.ActionsOnly
		cfg.Observer = rec
	}

	log.Debug("running job", "requests", len(reqs), "max_tokens", cfg.MaxTokens, "seed", jobSeed)
	results, err := generate.New(toyBackends(tab)(jobSeed), tab, cfg).Run(ctx, reqs)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, res := range results {
		o := job.NewOutcome(res)
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
		if o.Failed() {
			failed++
			log.Warn("request failed", "request_id", o.ID, "text", o.Text)
		}
		for _, w := range o.Warnings {
			log.Warn("request warning", "request_id", o.ID, "warning", w)
		}
	}

	if rec != nil {
		tw := trace.NewWriter(opts.Trace)
		if err := tw.WriteAll(rec.Records()); err != nil {
			return err
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRequestsFailed, failed, len(results))
	}
	return nil
}
