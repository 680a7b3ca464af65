/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const schedulerTracer = "github.com/friendsincode/carbonwise/scheduler"

// Span attribute keys shared by scheduler spans.
var (
	attrRegion      = attribute.Key("carbonwise.region")
	attrEvaluated   = attribute.Key("carbonwise.tick.evaluated")
	attrDispatched  = attribute.Key("carbonwise.tick.dispatched")
	attrSkipped     = attribute.Key("carbonwise.tick.skipped")
	attrUnavailable = attribute.Key("carbonwise.tick.unavailable_regions")
	attrSamples     = attribute.Key("carbonwise.forecast.samples")
)

// TracerConfig contains configuration for OpenTelemetry tracing.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector
	Enabled        bool
	SampleRate     float64
}

// TracerProvider owns the SDK provider when tracing is on.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   zerolog.Logger
}

// InitTracer installs the global tracer provider. With tracing disabled a
// no-op provider is installed and spans cost nothing.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	logger = logger.With().Str("component", "tracing").Logger()
	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		logger.Debug().Msg("tracing disabled")
		return &TracerProvider{logger: logger}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter %s: %w", cfg.OTLPEndpoint, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("tracing enabled")
	return &TracerProvider{provider: tp, logger: logger}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes buffered spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	tp.logger.Debug().Msg("tracer provider flushed")
	return nil
}

// TracingMiddleware starts a server span per request. Spans are named by
// method and path until chi has resolved the route.
func TracingMiddleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// TickSummary is what a finished evaluation pass records on its span.
type TickSummary struct {
	Evaluated   int
	Dispatched  int
	Skipped     int
	Unavailable []string
}

// StartTickSpan opens the span covering one evaluation pass.
func StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(schedulerTracer).Start(ctx, "scheduler.tick")
}

// EndTickSpan records the pass outcome and ends the span.
func EndTickSpan(span trace.Span, sum TickSummary) {
	span.SetAttributes(
		attrEvaluated.Int(sum.Evaluated),
		attrDispatched.Int(sum.Dispatched),
		attrSkipped.Int(sum.Skipped),
		attrUnavailable.StringSlice(sum.Unavailable),
	)
	span.End()
}

// StartFetchSpan opens the span around one region's forecast fetch.
func StartFetchSpan(ctx context.Context, region string) (context.Context, trace.Span) {
	return otel.Tracer(schedulerTracer).Start(ctx, "forecast.fetch",
		trace.WithAttributes(attrRegion.String(region)))
}

// EndFetchSpan marks the fetch failed when err is set, otherwise records the
// number of samples received, and ends the span.
func EndFetchSpan(span trace.Span, samples int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forecast unavailable")
	} else {
		span.SetAttributes(attrSamples.Int(samples))
	}
	span.End()
}
