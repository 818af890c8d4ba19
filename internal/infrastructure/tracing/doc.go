/*
Package tracing provides lightweight request tracing for the substrate.

Spans cover HTTP requests, protocol executions, and remote commands.
Finished spans are flushed asynchronously to the structured log, so
instrumented paths never block on trace output. Trace identifiers
propagate through context and the X-Trace-ID / X-Span-ID headers.

# Key Components

  - Tracer: buffered span collector with a logging backend
  - Span: one timed operation with tags, logs, and error state
  - HTTPMiddleware: gin middleware that traces every request

# Example Usage

	tracer := tracing.New("substrate", logger)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(ctx, "execute")
	span.SetTag("mode", "ssh")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
