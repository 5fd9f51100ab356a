// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

// Package mapiotel provides OpenTelemetry instrumentation for MAPI sessions.
// It implements the [mapi.ExchangeHook] interface to add tracing and metrics
// to every protocol exchange.
//
// Usage:
//
//	cfg := mapi.DefaultConfig()
//	cfg.Hook = mapiotel.NewHook(mapiotel.DefaultConfig())
//	sess, err := mapi.Dial(ctx, addr, cfg)
package mapiotel

import (
	"context"
	"time"

	"github.com/Etanimod/monetdb-go/mapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "monetdb-go/mapi"

// Config configures the instrumentation hook.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordStatements attaches the statement text to spans. Off by default;
	// statements may carry sensitive literals.
	RecordStatements bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with sensible defaults. TracerProvider and
// MeterProvider are resolved from the global OTel SDK when the hook is
// created.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
	}
}

// NewHook builds an ExchangeHook recording one span and one set of metric
// points per exchange. A single hook may be shared by many sessions.
func NewHook(cfg Config) mapi.ExchangeHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.exchangeCounter, _ = meter.Int64Counter("db.client.mapi.exchanges",
			metric.WithUnit("{exchange}"),
			metric.WithDescription("Number of protocol exchanges"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("db.client.mapi.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of protocol exchanges"),
		)
		h.bytesSent, _ = meter.Int64Counter("db.client.mapi.sent_bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Bytes sent to the server"),
		)
		h.bytesReceived, _ = meter.Int64Counter("db.client.mapi.received_bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Bytes received from the server"),
		)
	}
	return h
}

type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	exchangeCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram
	bytesSent         metric.Int64Counter
	bytesReceived     metric.Int64Counter
}

// spanToken is the HookToken returned by OnExchangeStart.
type spanToken struct {
	ctx       context.Context
	span      trace.Span
	startTime time.Time
}

func (h *otelHook) OnExchangeStart(info mapi.ExchangeInfo) mapi.HookToken {
	ctx := context.Background()
	if !h.cfg.EnableTracing {
		return &spanToken{ctx: ctx, startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", "monetdb"),
		attribute.String("db.namespace", info.Database),
		attribute.String("db.client.mapi.session_id", info.SessionID),
		attribute.String("db.client.mapi.exchange", info.Kind),
	}
	if h.cfg.RecordStatements && info.Statement != "" {
		attrs = append(attrs, attribute.String("db.query.text", info.Statement))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, "mapi/"+info.Kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return &spanToken{ctx: ctx, span: span, startTime: time.Now()}
}

func (h *otelHook) OnExchangeEnd(token mapi.HookToken, info mapi.ExchangeInfo, stats *mapi.ExchangeStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)
	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("db.system", "monetdb"),
			attribute.String("db.namespace", info.Database),
			attribute.String("db.client.mapi.exchange", info.Kind),
			attribute.String("status", status),
		)
		if h.exchangeCounter != nil {
			h.exchangeCounter.Add(st.ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(st.ctx, duration.Seconds(), metricAttrs)
		}
		if stats != nil {
			if h.bytesSent != nil {
				h.bytesSent.Add(st.ctx, stats.BytesSent, metricAttrs)
			}
			if h.bytesReceived != nil {
				h.bytesReceived.Add(st.ctx, stats.BytesReceived, metricAttrs)
			}
		}
	}

	if st.span != nil && st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("db.client.mapi.sent_bytes", stats.BytesSent),
				attribute.Int64("db.client.mapi.received_bytes", stats.BytesReceived),
				attribute.Int64("db.client.mapi.lines", stats.LinesParsed),
				attribute.Int64("db.client.mapi.rows", stats.RowsDecoded),
			)
		}
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			st.span.RecordError(err)
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
		st.span.End()
	}
}
