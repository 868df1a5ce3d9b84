// Package query answers read requests over a snapshot of reports.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ubuntu/ais-insights/internal/common/constants"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/ais-insights/internal/stats"
)

// ErrQuery is returned when the snapshot backing a query cannot be read.
var ErrQuery = errors.New("query failed")

// Source provides the current snapshot of reports.
type Source interface {
	Snapshot() ([]models.Report, error)
}

// InMemory adapts an in-process report buffer, which cannot fail, to a Source.
func InMemory(s interface{ Snapshot() []models.Report }) Source {
	return memSource{s}
}

type memSource struct {
	s interface{ Snapshot() []models.Report }
}

func (m memSource) Snapshot() ([]models.Report, error) {
	return m.s.Snapshot(), nil
}

// Service serves reports and statistics from a Source.
type Service struct {
	src Source
	now func() time.Time
}

type options struct {
	now func() time.Time
}

// Options represents an optional function to override Service default values.
type Options func(*options)

// WithClock overrides the wall clock used for missing timestamps and summaries.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}

// New returns a Service reading from src.
func New(src Source, args ...Options) *Service {
	opts := options{
		now: time.Now,
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Service{
		src: src,
		now: opts.now,
	}
}

// Reports returns the current snapshot.
//
// Reports without a string timestamp get the current time, formatted as "YYYY-MM-DD HH:MM:SS".
// The timestamp is assigned on each call and never stored. The result is never nil.
func (s Service) Reports(ctx context.Context) ([]models.Report, error) {
	reports, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().Format(constants.TimestampLayout)
	out := make([]models.Report, len(reports))
	for i, r := range reports {
		if ts, ok := r.Timestamp(); !ok || ts == "" {
			r = r.With(models.FieldTimestamp, now)
		}
		out[i] = r
	}
	return out, nil
}

// Stats returns the summary of the current snapshot.
func (s Service) Stats(ctx context.Context) (stats.Summary, error) {
	reports, err := s.snapshot(ctx)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(reports, s.now()), nil
}

func (s Service) snapshot(ctx context.Context) ([]models.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	reports, err := s.src.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return reports, nil
}
