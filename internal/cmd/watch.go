package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/refractory/fetch"
	"github.com/adamwoolhether/refractory/internal/output"
	"github.com/adamwoolhether/refractory/throttle"
)

const maxResultLen = 60

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Poll a JSON endpoint through the throttle and report what callers saw",
		Example: `  refractory watch https://api.example.com/status --period 2s --interval 250ms --count 20
  refractory watch --config watch.yaml -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Watch
			if len(args) == 1 {
				cfg.URL = args[0]
			}
			if cfg.URL == "" {
				return errors.New("a url is required, as an argument or watch.url")
			}

			report, err := watch(cmd.Context(), a, cfg.URL)
			if err != nil {
				return err
			}

			return output.Write(cmd.OutOrStdout(), a.format, report)
		},
	}

	f := cmd.Flags()
	f.Duration("interval", 250*time.Millisecond, "time between polls")
	f.Int("count", 10, "number of polls")
	f.Int("rps", 0, "outbound requests per second limit, 0 to disable")
	f.Int("burst", 0, "outbound burst capacity, required with --rps")
	f.String("user-agent", "refractory", "User-Agent header")
	for _, name := range []string{"interval", "count", "rps", "burst", "user-agent"} {
		_ = a.v.BindPFlag("watch."+name, f.Lookup(name))
	}

	return cmd
}

func watch(ctx context.Context, a *app, rawURL string) (output.Report, error) {
	cfg := a.cfg.Watch
	logger := a.logger.With("cmd", "watch")

	opts := []fetch.Option{
		fetch.WithLogger(logger),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithThrottleOptions(throttle.WithErrorSink(throttle.ErrorSinkFunc(func(err error) {
			logger.Warn("background refresh failed", "error", err)
		}))),
	}
	if cfg.RPS > 0 {
		opts = append(opts, fetch.WithRateLimit(cfg.RPS, cfg.Burst))
	}

	res, err := fetch.New[any](rawURL, a.cfg.Period, opts...)
	if err != nil {
		return output.Report{}, err
	}
	defer res.Close()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	steps := make([]output.Step, 0, cfg.Count)

	for i := range cfg.Count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return output.Report{Steps: steps, Stats: res.Stats()}, ctx.Err()
			case <-ticker.C:
			}
		}

		before := res.Stats()
		doc, err := res.Get(ctx, nil)
		after := res.Stats()

		step := output.Step{At: time.Since(start).Round(time.Millisecond), Event: "stale", Result: summarize(doc)}
		if after.Invocations-after.Deferred > before.Invocations-before.Deferred {
			step.Event = "fresh"
		}
		if err != nil {
			step.Err = err.Error()
		}
		steps = append(steps, step)

		logger.Debug("poll", "n", i, "event", step.Event)
	}

	return output.Report{Steps: steps, Stats: res.Stats()}, nil
}

func summarize(v any) string {
	if v == nil {
		return ""
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	if len(b) > maxResultLen {
		return string(b[:maxResultLen-3]) + "..."
	}

	return string(b)
}
