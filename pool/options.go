package pool

import (
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskforge/taskforge/internal/algorithms"
)

// BackoffKind selects the delay strategy applied before reassigning a
// task whose worker crashed.
type BackoffKind int

const (
	// BackoffExponential doubles the delay per attempt (default).
	BackoffExponential BackoffKind = iota
	// BackoffJittered adds random jitter to exponential delays.
	BackoffJittered
	// BackoffDecorrelated uses AWS-style decorrelated jitter.
	BackoffDecorrelated
)

// Option is a functional option for configuring the pool.
type Option func(*config)

type config struct {
	workerCount    int
	maxQueueDepth  int
	retryLimit     int
	healthInterval time.Duration
	healthTimeout  time.Duration

	backoffKind    BackoffKind
	backoffInitial time.Duration
	backoffMax     time.Duration
	backoffJitter  float64

	rateLimiter *rate.Limiter
	pinWorkers  bool
	logger      *zap.Logger
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		workerCount:    runtime.GOMAXPROCS(0),
		maxQueueDepth:  256,
		retryLimit:     2,
		healthInterval: time.Second,
		healthTimeout:  30 * time.Second,
		backoffKind:    BackoffExponential,
		backoffInitial: 100 * time.Millisecond,
		backoffMax:     5 * time.Second,
		backoffJitter:  0.1,
		logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *config) backoff() algorithms.Backoff {
	return algorithms.New(algorithms.Kind(c.backoffKind), c.backoffInitial, c.backoffMax, c.backoffJitter)
}

// WithWorkerCount sets the number of parallel worker contexts.
// If not specified, defaults to runtime.GOMAXPROCS(0).
func WithWorkerCount(count int) Option {
	return func(cfg *config) {
		if count > 0 {
			cfg.workerCount = count
		}
	}
}

// WithMaxQueueDepth bounds the number of accepted-but-unassigned tasks.
// Submissions beyond the bound fail with ErrPoolSaturated instead of
// growing the queue. depth <= 0 means unbounded. Default 256.
func WithMaxQueueDepth(depth int) Option {
	return func(cfg *config) {
		cfg.maxQueueDepth = depth
	}
}

// WithRetryLimit sets how many times a task is reassigned after its worker
// crashes before it settles with WorkerCrashedError. Default 2.
func WithRetryLimit(limit int) Option {
	return func(cfg *config) {
		if limit >= 0 {
			cfg.retryLimit = limit
		}
	}
}

// WithHealthCheck configures the supervisor's watchdog: every interval it
// checks each worker, and a worker that has held one task for longer than
// timeout without producing a result is treated as crashed and
// force-terminated. timeout 0 disables the watchdog.
// Defaults: 1s interval, 30s timeout.
func WithHealthCheck(interval, timeout time.Duration) Option {
	return func(cfg *config) {
		if interval > 0 {
			cfg.healthInterval = interval
		}
		cfg.healthTimeout = timeout
	}
}

// WithBackoff sets the delay strategy between crash reassignments.
func WithBackoff(kind BackoffKind, initial, max time.Duration) Option {
	return func(cfg *config) {
		cfg.backoffKind = kind
		if initial > 0 {
			cfg.backoffInitial = initial
		}
		if max > 0 {
			cfg.backoffMax = max
		}
	}
}

// WithRateLimit throttles task execution across all workers.
// tasksPerSecond is the sustained rate, burst the peak.
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(cfg *config) {
		if tasksPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithWorkerAffinity pins each worker's OS thread to a CPU core. Useful
// for long CPU-bound tasks; pointless for workloads that block.
func WithWorkerAffinity() Option {
	return func(cfg *config) {
		cfg.pinWorkers = true
	}
}

// WithLogger sets the structured logger for supervisor and lifecycle
// events. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}
