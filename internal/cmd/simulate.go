package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/refractory/internal/output"
	"github.com/adamwoolhether/refractory/throttle"
	"github.com/adamwoolhether/refractory/throttle/throttletest"
)

var errSimulated = errors.New("simulated failure")

func newSimulateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay call offsets against the throttle on a virtual clock",
		Example: `  refractory simulate --period 100ms --calls 0,30ms,60ms,150ms
  refractory simulate --period 100ms --calls 0,10ms --fail 10ms -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := simulate(cmd.Context(), a.cfg.Period, a.cfg.Simulate.Calls, a.cfg.Simulate.Fail, a.logger)
			if err != nil {
				return err
			}

			return output.Write(cmd.OutOrStdout(), a.format, report)
		},
	}

	cmd.Flags().StringSlice("calls", []string{"0s"}, "offsets of the calls from the start, non-decreasing")
	cmd.Flags().StringSlice("fail", nil, "offsets whose call makes the target fail")
	_ = a.v.BindPFlag("simulate.calls", cmd.Flags().Lookup("calls"))
	_ = a.v.BindPFlag("simulate.fail", cmd.Flags().Lookup("fail"))

	return cmd
}

// simulate runs every call at its offset on a fake clock and records what
// the caller saw and when the target actually ran.
func simulate(ctx context.Context, period time.Duration, calls, fail []time.Duration, logger *slog.Logger) (output.Report, error) {
	if !slices.IsSorted(calls) {
		return output.Report{}, fmt.Errorf("call offsets must be non-decreasing: %v", calls)
	}

	epoch := time.Unix(0, 0)
	clock := throttletest.NewFake(epoch)

	var (
		steps    []output.Step
		invoking bool
	)
	elapsed := func() time.Duration { return clock.Now().Sub(epoch) }

	target := func(_ context.Context, arg string) (string, error) {
		var err error
		res := "f(" + arg + ")"
		if slices.Contains(fail, offsetOf(arg, calls)) {
			res, err = "", fmt.Errorf("%s: %w", arg, errSimulated)
		}

		if !invoking {
			steps = append(steps, output.Step{At: elapsed(), Event: "deferred", Arg: arg, Result: res})
		}

		return res, err
	}

	sink := throttle.ErrorSinkFunc(func(err error) {
		steps = append(steps, output.Step{At: elapsed(), Event: "error", Err: err.Error()})
	})

	th, err := throttle.New(target, period,
		throttle.WithClock(clock),
		throttle.WithTimer(clock),
		throttle.WithErrorSink(sink),
		throttle.WithLogger(logger.With("cmd", "simulate")),
	)
	if err != nil {
		return output.Report{}, err
	}
	defer th.Dispose()

	for i, at := range calls {
		clock.Advance(at - elapsed())

		before := th.Stats()
		arg := argName(i)

		invoking = true
		res, err := th.Invoke(ctx, arg)
		invoking = false

		step := output.Step{At: at, Event: "stale", Arg: arg, Result: res}
		if th.Stats().Invocations > before.Invocations {
			step.Event = "fresh"
		}
		if err != nil {
			step.Err = err.Error()
		}
		steps = append(steps, step)
	}

	// Let a trailing deferred call run.
	clock.Advance(period)

	return output.Report{Steps: steps, Stats: th.Stats()}, nil
}

// argName labels the i-th call a, b, c, ... and call-26 onwards.
func argName(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("call-%d", i)
}

func offsetOf(arg string, calls []time.Duration) time.Duration {
	for i, at := range calls {
		if argName(i) == arg {
			return at
		}
	}
	return -1
}
