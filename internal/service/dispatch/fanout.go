// Package dispatch runs the post-session work: cleaning, then the publish
// and intelligence lanes side by side.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ai-speech-intelligence-service/internal/observability/metrics"
)

// Lane is one independent unit of downstream work.
type Lane struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

// Outcome is what a lane produced. Lanes never affect each other; a failed,
// panicking or timed out lane only shows up here.
type Outcome struct {
	Lane     string
	Value    any
	Err      error
	Duration time.Duration
}

// FanOut runs lanes concurrently with a per-lane deadline.
type FanOut struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewFanOut creates a FanOut. A zero timeout leaves lanes bounded only by
// the caller's context.
func NewFanOut(timeout time.Duration, m *metrics.Metrics) *FanOut {
	return &FanOut{timeout: timeout, metrics: m}
}

// Run starts every lane and waits for all of them. Outcomes are returned in
// lane order.
func (f *FanOut) Run(ctx context.Context, logger zerolog.Logger, lanes ...Lane) []Outcome {
	outcomes := make([]Outcome, len(lanes))
	var g errgroup.Group
	for i, lane := range lanes {
		g.Go(func() error {
			outcomes[i] = f.runLane(ctx, lane)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		ev := logger.Info()
		if o.Err != nil {
			ev = logger.Error().Err(o.Err)
		}
		ev.Str("lane", o.Lane).Dur("duration", o.Duration).Msg("Lane finished")
	}
	return outcomes
}

type laneResult struct {
	value any
	err   error
}

func (f *FanOut) runLane(ctx context.Context, lane Lane) Outcome {
	start := time.Now()
	lctx, cancel := ctx, context.CancelFunc(func() {})
	if f.timeout > 0 {
		lctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	defer cancel()

	done := make(chan laneResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("lane", lane.Name).Interface("panic", p).Msg("Lane panicked")
				done <- laneResult{err: fmt.Errorf("lane %s panicked: %v", lane.Name, p)}
			}
		}()
		v, err := lane.Run(lctx)
		done <- laneResult{value: v, err: err}
	}()

	var res laneResult
	select {
	case res = <-done:
	case <-lctx.Done():
		res.err = fmt.Errorf("lane %s: %w", lane.Name, lctx.Err())
	}

	out := Outcome{Lane: lane.Name, Value: res.value, Err: res.err, Duration: time.Since(start)}
	if f.metrics != nil {
		f.metrics.RecordLane(out.Lane, out.Err, out.Duration.Seconds())
	}
	return out
}
