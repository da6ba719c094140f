package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"troodie/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// engagementAttributes tags a span with the post and viewer a request acted on.
func engagementAttributes(c *fiber.Ctx) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if postID, err := strconv.ParseUint(c.Params("id"), 10, 64); err == nil && postID > 0 && strings.Contains(c.Route().Path, "/posts/") {
		attrs = append(attrs, attribute.Int64("post.id", int64(postID)))
	}
	if viewer := ViewerID(c); viewer != 0 {
		attrs = append(attrs, attribute.Int64("viewer.id", int64(viewer)))
	}
	return attrs
}

// TracingMiddleware opens a server span per request. Once the handler has run
// the span is renamed to the matched route and tagged with the post and viewer.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		spanName := fmt.Sprintf("%s %s", c.Method(), c.Path())
		ctx, span := observability.Tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.url", c.OriginalURL()),
				attribute.String("http.ip", c.IP()),
				attribute.String("http.user_agent", c.Get("User-Agent")),
			),
		)
		defer span.End()

		c.Locals("traceID", span.SpanContext().TraceID().String())
		c.Locals("spanID", span.SpanContext().SpanID().String())

		if sid := c.Get(SessionHeader); sid != "" {
			span.SetAttributes(attribute.String("session.id", sid))
		}
		if requestID := c.Locals("requestid"); requestID != nil {
			span.SetAttributes(attribute.String("request.id", fmt.Sprintf("%v", requestID)))
		}

		c.Set("X-Trace-ID", span.SpanContext().TraceID().String())

		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("error", err.Error()))
		}

		// route params and the viewer are only known once routing ran
		if route := c.Route(); route != nil && route.Path != "" {
			span.SetName(fmt.Sprintf("%s %s", c.Method(), route.Path))
			span.SetAttributes(attribute.String("http.route", route.Path))
		}
		span.SetAttributes(engagementAttributes(c)...)

		return err
	}
}
