/*
Package tracing times requests and preview operations and logs them with
correlated IDs.

A trace is started per HTTP request by HTTPMiddleware (or continued from
an incoming X-Trace-ID header). Handlers start child spans for the work
they wait on, such as a preview build:

	span, ctx := tracer.StartSpan(c.Request.Context(), "preview.build")
	span.SetTag("preview", p.ID().String())
	status, err := p.AwaitBuild(ctx, 0)
	tracer.End(span, err)

Finished spans go to a buffered collector that logs them with zap: failed
spans at error, slow spans at warn and everything else at debug. IDs are
ULIDs from the shared id package, so they sort by start time.
*/
package tracing
