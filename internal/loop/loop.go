/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/meshd/internal/discovery"
	"github.com/mikelane/meshd/internal/mesh"
)

// Discoverer is the service-discovery surface the loop drives each tick
type Discoverer interface {
	DiscoverAllServices(ctx context.Context, selector string) ([]discovery.ServiceEndpoint, error)
	ProbeOpenAPIEndpoints(ctx context.Context, services []discovery.ServiceEndpoint) []discovery.ServiceEndpoint
}

// ConfigManager is the mesh-configuration surface the loop publishes through
type ConfigManager interface {
	UpdateConfiguration(ctx context.Context, services []discovery.ServiceEndpoint) (bool, error)
	GetHealthStatus() mesh.HealthStatus
	Cleanup(ctx context.Context)
}

// Options configures the loop's schedule and retry policy
type Options struct {
	// Interval is the regular cadence between successful ticks.
	Interval time.Duration

	// Selector is the label selector handed to discovery.
	Selector string

	// RetryDelay is the base backoff after a failed tick, doubled per
	// consecutive retry.
	RetryDelay time.Duration

	// MaxRetries caps consecutive retries before the loop gives up on the
	// failure and falls back to the regular cadence.
	MaxRetries int

	// Registerer receives the loop's metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// Validate rejects option combinations that would wedge the schedule
func (o *Options) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", o.Interval)
	}
	if o.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive, got %s", o.RetryDelay)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", o.MaxRetries)
	}
	return nil
}

// Loop owns the discovery schedule. It is a single logical worker: exactly
// one pending timer exists at a time and a tick always fully resolves
// (including its retries) before the next one is scheduled, so ticks never
// overlap and configuration updates apply in tick order.
type Loop struct {
	discoverer Discoverer
	manager    ConfigManager
	metrics    *metrics

	// tickMu serializes tick execution across the timer path and
	// ForceDiscovery.
	tickMu sync.Mutex

	mu         sync.Mutex
	opts       Options
	running    bool
	ticking    bool
	retryCount int
	lastRun    time.Time
	lastErr    error
	nextRun    time.Time
	timer      *time.Timer
	baseCtx    context.Context
	cancel     context.CancelFunc

	// onSchedule observes every scheduled delay; used by tests to verify the
	// backoff sequence without waiting on wall-clock time.
	onSchedule func(time.Duration)
}

// New creates a discovery loop in the Stopped state
func New(d Discoverer, m ConfigManager, opts Options) (*Loop, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop options: %w", err)
	}
	return &Loop{
		discoverer: d,
		manager:    m,
		opts:       opts,
		metrics:    newMetrics(opts.Registerer),
	}, nil
}

// Start transitions Stopped -> Running, resets the retry counter, runs one
// tick immediately and then follows the regular cadence. Calling Start on a
// running loop is a no-op: no duplicate timer, no duplicate immediate tick.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.retryCount = 0
	l.lastErr = nil
	l.baseCtx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	log.FromContext(ctx).Info("Discovery loop starting",
		"interval", l.opts.Interval, "selector", l.opts.Selector)

	go l.runScheduledTick()
}

// Stop cancels any pending timer, releases the mesh manager and transitions
// to Stopped. A tick already executing its network calls is not preempted
// beyond context cancellation; Stop guarantees no further work is scheduled.
// Stopping a stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.stopTimerLocked()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.manager.Cleanup(context.Background())
}

// ForceDiscovery runs one tick immediately, outside the schedule. The pending
// timer is cancelled and the retry counter is zeroed for the run; on failure
// the prior counter is restored before the error is returned so a manual run
// never corrupts the loop's retry bookkeeping. When the loop is running, the
// regular cadence resumes afterwards.
func (l *Loop) ForceDiscovery(ctx context.Context) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	l.mu.Lock()
	l.stopTimerLocked()
	prevRetries := l.retryCount
	l.retryCount = 0
	selector := l.opts.Selector
	l.mu.Unlock()

	err := l.tick(ctx, selector)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.retryCount = prevRetries
		l.lastErr = err
		if l.running {
			l.scheduleLocked(l.opts.Interval)
		}
		return err
	}
	l.lastRun = time.Now()
	l.lastErr = nil
	if l.running {
		l.scheduleLocked(l.opts.Interval)
	}
	return nil
}

// UpdateConfig applies new scheduling options. Invalid options are rejected
// synchronously and leave the loop untouched. When the loop is running with a
// pending timer, the timer is rescheduled at the new interval; a tick already
// in progress is never interrupted and picks up the new options when it
// schedules its successor.
func (l *Loop) UpdateConfig(opts Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid loop options: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	opts.Registerer = l.opts.Registerer
	l.opts = opts
	if l.running && l.timer != nil {
		l.scheduleLocked(l.opts.Interval)
	}
	return nil
}

// Status is a read-only snapshot of the loop state
type Status struct {
	Running           bool
	Ticking           bool
	RetryCount        int
	LastSuccessfulRun time.Time
	LastError         string
	NextScheduledRun  time.Time
}

// GetStatus reports the loop's current state for operational visibility
func (l *Loop) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{
		Running:           l.running,
		Ticking:           l.ticking,
		RetryCount:        l.retryCount,
		LastSuccessfulRun: l.lastRun,
		NextScheduledRun:  l.nextRun,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// runScheduledTick executes one tick from the timer path and schedules its
// successor based on the outcome. Every failure path stays inside the loop:
// the hosting process never crashes on a discovery or persistence error.
func (l *Loop) runScheduledTick() {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	ctx := l.baseCtx
	selector := l.opts.Selector
	l.ticking = true
	l.mu.Unlock()

	err := l.tick(ctx, selector)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticking = false
	if !l.running {
		// Stopped mid-tick; do not schedule further work.
		return
	}

	if err == nil {
		l.retryCount = 0
		l.lastRun = time.Now()
		l.lastErr = nil
		l.scheduleLocked(l.opts.Interval)
		return
	}

	l.lastErr = err
	l.retryCount++
	if l.retryCount <= l.opts.MaxRetries {
		// Exponential backoff: retryDelay * 2^(retryCount-1). The retry
		// preempts the regular cadence.
		delay := l.opts.RetryDelay * time.Duration(1<<(l.retryCount-1))
		log.FromContext(ctx).Error(err, "Discovery tick failed, retrying",
			"attempt", l.retryCount, "maxRetries", l.opts.MaxRetries, "delay", delay)
		l.scheduleLocked(delay)
		return
	}

	// Retries exhausted: give up on this failure and resume the regular
	// cadence rather than retrying forever.
	log.FromContext(ctx).Error(err, "Discovery retries exhausted, resuming regular cadence",
		"maxRetries", l.opts.MaxRetries, "interval", l.opts.Interval)
	l.retryCount = 0
	l.scheduleLocked(l.opts.Interval)
}

// tick runs the full discover -> probe -> update sequence
func (l *Loop) tick(ctx context.Context, selector string) error {
	logger := log.FromContext(ctx)
	start := time.Now()

	services, err := l.discoverer.DiscoverAllServices(ctx, selector)
	if err != nil {
		l.metrics.ticksTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("discovery failed: %w", err)
	}
	l.metrics.discoveredServices.Set(float64(len(services)))

	probed := l.discoverer.ProbeOpenAPIEndpoints(ctx, services)

	changed, err := l.manager.UpdateConfiguration(ctx, probed)
	if err != nil {
		l.metrics.ticksTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("configuration update failed: %w", err)
	}

	l.metrics.ticksTotal.WithLabelValues("success").Inc()
	l.metrics.lastSuccess.Set(float64(time.Now().Unix()))
	l.metrics.tickDuration.Observe(time.Since(start).Seconds())
	l.metrics.publishedSources.Set(float64(l.manager.GetHealthStatus().SourceCount))

	logger.V(1).Info("Discovery tick complete",
		"services", len(services), "changed", changed, "took", time.Since(start))
	return nil
}

// scheduleLocked arms the single pending timer. Callers hold l.mu. Any
// existing timer is cancelled first, so no scheduling path can ever leave two
// timers armed.
func (l *Loop) scheduleLocked(d time.Duration) {
	l.stopTimerLocked()
	l.nextRun = time.Now().Add(d)
	if l.onSchedule != nil {
		l.onSchedule(d)
	}
	l.timer = time.AfterFunc(d, l.runScheduledTick)
}

func (l *Loop) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.nextRun = time.Time{}
}
