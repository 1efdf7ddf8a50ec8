package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// HealthCheck returns nil when the dependency is usable.
type HealthCheck func(ctx context.Context) error

type registeredCheck struct {
	name     string
	critical bool
	check    HealthCheck
}

type HealthService struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	checks    []registeredCheck
	pool      *pgxpool.Pool
	scheduler *cron.Cron

	// Prometheus metrics
	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
	Latency     time.Duration     `json:"latency,omitempty"`
}

func NewHealthService(logger *logrus.Logger, reg prometheus.Registerer) *HealthService {
	hs := &HealthService{
		logger: logger,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.dbConnectionMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, []string{"database", "state"})

	hs.healthCheckStatus = registerGaugeVec(reg, hs.healthCheckStatus, logger)
	hs.lastHealthCheck = registerGaugeVec(reg, hs.lastHealthCheck, logger)
	hs.dbConnectionMetrics = registerGaugeVec(reg, hs.dbConnectionMetrics, logger)

	return hs
}

// registerGaugeVec registers vec, reusing an identical collector that is already registered.
func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, logger *logrus.Logger) *prometheus.GaugeVec {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("Failed to register health metric")
	}
	return vec
}

// AddCheck registers a dependency. A failing critical check makes the service unhealthy,
// a failing non-critical one only degraded.
func (s *HealthService) AddCheck(name string, critical bool, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks = append(s.checks, registeredCheck{name: name, critical: critical, check: check})
	sort.Slice(s.checks, func(i, j int) bool { return s.checks[i].name < s.checks[j].name })
}

// WatchPool exports pgx pool statistics on every background run.
func (s *HealthService) WatchPool(pool *pgxpool.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = pool
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
	}

	s.mu.RLock()
	checks := append([]registeredCheck(nil), s.checks...)
	s.mu.RUnlock()

	allCriticalHealthy := true
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.check(checkCtx)
		cancel()

		if err != nil {
			status.Services[c.name] = "unhealthy"
			if c.critical {
				allCriticalHealthy = false
				status.Critical = append(status.Critical, c.name)
				s.logger.WithError(err).Errorf("Critical service %s is unhealthy", c.name)
			} else {
				status.NonCritical = append(status.NonCritical, c.name)
				s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", c.name)
			}
			s.UpdateHealthMetrics(c.name, false)
			continue
		}

		status.Services[c.name] = "healthy"
		s.UpdateHealthMetrics(c.name, true)
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}
	status.Latency = time.Since(start)

	return status
}

// Start runs the checks and pool collection on a schedule until Stop.
func (s *HealthService) Start(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.CheckHealth(context.Background())
		s.collectPoolMetrics()
	}); err != nil {
		return fmt.Errorf("failed to schedule health checks: %w", err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

func (s *HealthService) Stop() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
}

func (s *HealthService) collectPoolMetrics() {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()

	if pool == nil {
		return
	}

	stats := pool.Stat()
	s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))

	if stats.MaxConns() > 0 {
		usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
		s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
	}
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
