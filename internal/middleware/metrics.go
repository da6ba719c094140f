package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
)

var (
	metricsMu      sync.Mutex
	metricsService = map[string]*fiberprometheus.FiberPrometheus{}
)

// InitMetrics returns the HTTP Prometheus collector for serviceName. Collectors
// register with the default registry once per process, so repeated calls for
// the same service share one instance. The caller mounts it with RegisterAt.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if p, ok := metricsService[serviceName]; ok {
		return p
	}
	p := fiberprometheus.New(serviceName)
	metricsService[serviceName] = p
	return p
}

// MetricsMiddleware records request counts and latency through p.
func MetricsMiddleware(p *fiberprometheus.FiberPrometheus) fiber.Handler {
	return p.Middleware
}
