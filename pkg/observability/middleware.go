package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityMiddleware provides comprehensive observability for HTTP requests
type ObservabilityMiddleware struct {
	tracer         trace.Tracer
	metrics        *MetricsProvider
	logger         *Logger
	performanceLog *PerformanceLogger
	securityLog    *SecurityLogger
	auditLog       *AuditLogger
	serviceName    string
	slowThreshold  time.Duration
}

// MiddlewareConfig contains configuration for observability middleware
type MiddlewareConfig struct {
	ServiceName    string
	ServiceVersion string
	SlowThreshold  time.Duration
	EnableTracing  bool
	EnableMetrics  bool
	EnableLogging  bool
	EnableSecurity bool
	EnableAudit    bool
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(
	metrics *MetricsProvider,
	logger *Logger,
	config MiddlewareConfig,
) *ObservabilityMiddleware {
	tracer := otel.Tracer(config.ServiceName)

	slowThreshold := config.SlowThreshold
	if slowThreshold == 0 {
		slowThreshold = 1 * time.Second
	}

	return &ObservabilityMiddleware{
		tracer:         tracer,
		metrics:        metrics,
		logger:         logger,
		performanceLog: NewPerformanceLogger(logger),
		securityLog:    NewSecurityLogger(logger),
		auditLog:       NewAuditLogger(logger),
		serviceName:    config.ServiceName,
		slowThreshold:  slowThreshold,
	}
}

// HTTPMiddleware returns a standard net/http middleware for observability,
// suitable for wrapping a gorilla/mux router.
func (om *ObservabilityMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Generate request ID
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)

		// Extract trace context from headers
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		// Start span
		spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		ctx, span := om.tracer.Start(ctx, spanName)
		defer span.End()

		// Set span attributes
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
			attribute.String("http.remote_addr", r.RemoteAddr),
			attribute.String("request.id", requestID),
			attribute.String("service.name", om.serviceName),
		)

		// Create response writer wrapper to capture status code and size
		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Add trace context to request
		r = r.WithContext(ctx)

		// Log request start
		om.logger.Info(ctx, "HTTP request started", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
			"request_id":  requestID,
		})

		// Process request
		next.ServeHTTP(rw, r)

		// Calculate duration
		duration := time.Since(start)
		statusCode := rw.statusCode

		// Set final span attributes
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.Int64("http.response_size", int64(rw.size)),
			attribute.Float64("http.duration_ms", float64(duration.Nanoseconds())/1e6),
		)

		// Set span status based on HTTP status code
		if statusCode >= 400 {
			span.SetAttributes(attribute.Bool("error", true))
			if statusCode >= 500 {
				span.RecordError(fmt.Errorf("HTTP %d", statusCode))
			}
		}

		// Record metrics
		if om.metrics != nil {
			om.metrics.RecordHTTPRequest(
				ctx,
				r.Method,
				r.URL.Path,
				strconv.Itoa(statusCode),
				duration,
			)
		}

		// Log request completion
		logFields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"request_id":  requestID,
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}

		if statusCode >= 400 {
			om.logger.Warn(ctx, "HTTP request completed with error", logFields)
		} else {
			om.logger.Info(ctx, "HTTP request completed", logFields)
		}

		// Log slow requests
		if duration > om.slowThreshold {
			om.performanceLog.LogSlowOperation(
				ctx,
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				duration,
				om.slowThreshold,
				logFields,
			)
		}

		// Audit logging for every successful request under /bots,
		// /agent/signals, /agent/start and /agent/stop — reads such as
		// GET /bots and GET /agent/signals included — independent of the
		// request log above.
		if om.isSensitiveEndpoint(r.URL.Path) && statusCode < 400 {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				userID = "anonymous"
			}
			om.auditLog.LogUserAction(
				ctx,
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				userID,
				om.extractResource(r.URL.Path),
				logFields,
			)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

func (om *ObservabilityMiddleware) isSensitiveEndpoint(path string) bool {
	sensitivePrefixes := []string{
		"/bots",
		"/agent/signals",
		"/agent/start",
		"/agent/stop",
	}

	for _, prefix := range sensitivePrefixes {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (om *ObservabilityMiddleware) extractResource(path string) string {
	for _, part := range []string{"bots", "agent", "market", "strategies"} {
		prefix := "/" + part
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return part
		}
	}
	return "unknown"
}
