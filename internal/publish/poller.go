package publish

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 1200 * time.Second
)

// Outcome is the terminal state of a publish wait.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MetadataGetter fetches environment metadata.
type MetadataGetter interface {
	GetEnvironment(ctx context.Context, workspaceID, environmentID string) (fabric.EnvironmentMetadata, error)
}

// Clock abstracts time so tests can advance it without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// State classification of publishDetails.state. Only listed success states
// end the wait successfully; anything not listed keeps polling.
var (
	successStates  = map[string]struct{}{"success": {}, "succeeded": {}}
	failureStates  = map[string]struct{}{"failed": {}, "cancelled": {}, "canceled": {}}
	inFlightStates = map[string]struct{}{
		"running": {}, "waiting": {}, "cancelling": {}, "canceling": {},
	}
)

// IsRunning reports whether state denotes an in-flight publish, including
// the queued and cancelling transitions.
func IsRunning(state string) bool {
	_, ok := inFlightStates[strings.ToLower(strings.TrimSpace(state))]
	return ok
}

// Poller waits for an environment publish to reach a terminal state.
type Poller struct {
	API      MetadataGetter
	Interval time.Duration
	Timeout  time.Duration
	Clock    Clock
	Logger   *log.Logger
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultInterval
}

func (p *Poller) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

func (p *Poller) clock() Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return realClock{}
}

func (p *Poller) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.New(io.Discard)
}

// Wait polls the environment metadata at a constant interval until the
// publish succeeds, fails, or the timeout elapses. Metadata is refetched on
// every iteration. States outside the success and failure sets, such as
// "none" or an empty state, keep polling until the timeout. The error is
// non-nil only when ctx is done.
func (p *Poller) Wait(ctx context.Context, workspaceID, environmentID string) (Outcome, error) {
	clk := p.clock()
	logger := p.logger()
	start := clk.Now()
	deadline := p.timeout()
	for {
		meta, err := p.API.GetEnvironment(ctx, workspaceID, environmentID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return TimedOut, ctx.Err()
			}
			logger.Warn("fetch environment metadata failed", "status", fabric.StatusCode(err), "err", err)
		default:
			state := strings.ToLower(meta.PublishState())
			if _, ok := successStates[state]; ok {
				logger.Info("environment published", "state", meta.PublishState())
				return Succeeded, nil
			}
			if _, ok := failureStates[state]; ok {
				logger.Error("environment publish failed", "state", meta.PublishState())
				return Failed, nil
			}
			logger.Debug("publish in progress", "state", meta.PublishState())
		}
		if clk.Now().Sub(start) >= deadline {
			break
		}
		if err := clk.Sleep(ctx, p.interval()); err != nil {
			return TimedOut, err
		}
	}
	logger.Error("publish operation timed out", "timeout", deadline)
	return TimedOut, nil
}
