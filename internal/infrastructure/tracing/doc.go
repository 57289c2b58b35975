// Package tracing provides lightweight request tracing. Each HTTP
// request gets a span with a req_-prefixed trace ID, propagated via
// X-Trace-ID / X-Span-ID headers and logged on completion.
package tracing
