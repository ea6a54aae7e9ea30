package store

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/metrics"
)

type Option func(*Store)

// WithClock replaces the process-wide clock used to stamp writes.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCollector(c metrics.Collector) Option {
	return func(s *Store) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithTracerProvider replaces the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}
