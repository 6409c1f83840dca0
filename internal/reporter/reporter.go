package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Event describes one step of a publish run.
type Event struct {
	RunID       string    `json:"run_id"`
	Step        string    `json:"step"`
	Status      string    `json:"status"`
	Workspace   string    `json:"workspace,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Package     string    `json:"package,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Sink receives run events.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
}

// NullSink drops events.
type NullSink struct{}

func (NullSink) Emit(context.Context, Event) error { return nil }

// HTTPSink posts events as JSON to a webhook.
type HTTPSink struct {
	URL    string
	Token  string
	Client *http.Client
}

func (s *HTTPSink) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *HTTPSink) Emit(ctx context.Context, evt Event) error {
	if s == nil || s.URL == "" {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("X-Report-Token", s.Token)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post event status %s", resp.Status)
	}
	return nil
}

// MultiSink delivers every event to all of its sinks concurrently and
// returns the first delivery error.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, evt Event) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m {
		g.Go(func() error { return s.Emit(gctx, evt) })
	}
	return g.Wait()
}

// Combine returns a sink over the non-nil sinks given, or NullSink when
// there are none.
func Combine(sinks ...Sink) Sink {
	var out MultiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return NullSink{}
	case 1:
		return out[0]
	default:
		return out
	}
}
