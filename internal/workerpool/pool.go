package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/observability"
	"github.com/missionctl/missionctl/internal/resource"
)

// healthProbeInterval is how often each worker is liveness-checked
// (§4.4).
const healthProbeInterval = 30 * time.Second

// rescaleInterval is how often the pool re-evaluates its size against
// the Resource Monitor's current threshold, so an EMERGENCY reading
// drains the pool by half even with no new Scale call from a caller.
const rescaleInterval = 15 * time.Second

// launchMaxRetries / launchBackoff implement the §4.4 failure semantics
// for worker launch failure.
const launchMaxRetries = 3

var launchBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// ErrUnavailable is returned by a non-blocking checkout when no worker
// is currently IDLE.
var ErrUnavailable = fmt.Errorf("workerpool: no worker available")

// Launcher starts a fresh browser worker process/session and returns
// its handle; the pool treats this as an opaque collaborator the same
// way the Controller treats Tools.
type Launcher func(ctx context.Context, id string) error

// Prober performs a liveness check against a live worker; a pluggable
// hook so tests can simulate unhealthy workers without a real browser.
type Prober func(ctx context.Context, workerID string) bool

// Pool manages a bounded set of browser workers.
type Pool struct {
	mu      sync.Mutex
	workers map[string]*Worker
	idle    []string          // fair-order free-list
	waiters []chan *Worker    // FIFO blocking-checkout queue
	targetCount int
	nextSeq int

	monitor *resource.Monitor
	log     *zap.Logger
	launch  Launcher
	probe   Prober
	stopCh  chan struct{}
}

// NewPool constructs an empty pool; call Start to begin health probing
// and Scale to populate it.
func NewPool(monitor *resource.Monitor, launch Launcher, probe Prober, log *zap.Logger) *Pool {
	return &Pool{
		workers: make(map[string]*Worker),
		monitor: monitor,
		log:     log,
		launch:  launch,
		probe:   probe,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic health-probe and rescale loops.
func (p *Pool) Start() {
	go func() {
		ticker := time.NewTicker(healthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.probeAll()
			case <-p.stopCh:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(rescaleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if p.monitor.ShouldDrainHalf() {
					p.mu.Lock()
					target := p.targetCount
					p.mu.Unlock()
					p.Scale(context.Background(), target)
				}
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop ends the health-probe and rescale loops.
func (p *Pool) Stop() { close(p.stopCh) }

// Scale grows or shrinks the pool toward target, bounded by the
// Resource Monitor's current safe_worker_count (§4.4).
func (p *Pool) Scale(ctx context.Context, target int) {
	if safe := p.monitor.SafeWorkerCount(); target > safe {
		target = safe
	}
	if !p.monitor.PoolMayGrow() {
		p.mu.Lock()
		cur := len(p.workers)
		p.mu.Unlock()
		if target > cur {
			target = cur
		}
	}

	if p.monitor.ShouldDrainHalf() {
		p.mu.Lock()
		cur := len(p.workers)
		p.mu.Unlock()
		if half := cur / 2; target > half {
			target = half
		}
	}

	p.mu.Lock()
	p.targetCount = target
	cur := len(p.workers)
	p.mu.Unlock()

	switch {
	case target > cur:
		for i := 0; i < target-cur; i++ {
			p.addWorker(ctx)
		}
	case target < cur:
		p.drainSurplus(cur - target)
	}
}

func (p *Pool) addWorker(ctx context.Context) {
	p.mu.Lock()
	p.nextSeq++
	id := fmt.Sprintf("worker-%d", p.nextSeq)
	p.mu.Unlock()

	var err error
	for attempt := 0; attempt < launchMaxRetries; attempt++ {
		if err = p.launch(ctx, id); err == nil {
			break
		}
		p.log.Warn("worker launch failed, retrying", zap.String("worker_id", id), zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < len(launchBackoff) {
			time.Sleep(launchBackoff[attempt])
		}
	}
	if err != nil {
		p.log.Error("worker launch failed persistently, reducing effective pool cap", zap.String("worker_id", id), zap.Error(err))
		observability.WorkerHealthProbeFailures.Inc()
		return
	}

	w := &Worker{WorkerID: id, Status: StatusIdle, LastHealthOKAt: time.Now()}
	p.mu.Lock()
	p.workers[id] = w
	p.idle = append(p.idle, id)
	p.mu.Unlock()
	p.updateGauges()
}

// drainSurplus removes up to n IDLE workers from the pool at once,
// marking each DRAINING as it goes. Checked-out workers are not marked
// or removed, so a shrink may leave the pool above target.
func (p *Pool) drainSurplus(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n && len(p.idle) > 0; i++ {
		id := p.idle[0]
		p.idle = p.idle[1:]
		if w, ok := p.workers[id]; ok {
			w.Status = StatusDraining
			delete(p.workers, id)
		}
	}
	p.updateGaugesLocked()
}

// Checkout returns an IDLE worker; req is not consulted, so any IDLE
// worker is returned. If blocking is
// true, it waits up to deadline (via ctx); otherwise it returns
// ErrUnavailable immediately when none is free.
func (p *Pool) Checkout(ctx context.Context, req Requirements, taskID string, blocking bool) (*Worker, error) {
	p.mu.Lock()
	if len(p.idle) > 0 {
		id := p.idle[0]
		p.idle = p.idle[1:]
		w := p.workers[id]
		w.Status = StatusCheckedOut
		w.CurrentTaskID = taskID
		p.updateGaugesLocked()
		p.mu.Unlock()
		return w, nil
	}
	if !blocking {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	waitCh := make(chan *Worker, 1)
	p.waiters = append(p.waiters, waitCh)
	p.mu.Unlock()

	select {
	case w := <-waitCh:
		if w == nil {
			return nil, ErrUnavailable
		}
		p.mu.Lock()
		w.CurrentTaskID = taskID
		p.updateGaugesLocked()
		p.mu.Unlock()
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Checkin returns a worker to IDLE after clearing its per-task state.
// If it's unhealthy or has exhausted its session limit, it is drained
// and replaced instead.
func (p *Pool) Checkin(ctx context.Context, workerID string, healthy bool) {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	w.CurrentTaskID = ""
	w.TasksCompletedSinceRestart++

	if !healthy || w.TasksCompletedSinceRestart >= sessionLimit || w.Status == StatusDraining {
		delete(p.workers, workerID)
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.addWorker(ctx)
		return
	}

	// Hand directly to the longest-waiting blocking checkout, else
	// return to the free-list; this preserves FIFO fairness across the
	// shared mutex-protected structure (§5).
	if len(p.waiters) > 0 {
		waitCh := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.Status = StatusCheckedOut
		p.updateGaugesLocked()
		p.mu.Unlock()
		waitCh <- w
		return
	}

	w.Status = StatusIdle
	p.idle = append(p.idle, workerID)
	p.updateGaugesLocked()
	p.mu.Unlock()
}

func (p *Pool) probeAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.workers))
	for id, w := range p.workers {
		if w.Status == StatusCheckedOut {
			continue // don't probe a worker mid-task
		}
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		ok := p.probe(context.Background(), id)
		p.mu.Lock()
		w, exists := p.workers[id]
		if !exists {
			p.mu.Unlock()
			continue
		}
		if ok {
			w.consecutiveHealthFailures = 0
			w.LastHealthOKAt = time.Now()
		} else {
			w.consecutiveHealthFailures++
			observability.WorkerHealthProbeFailures.Inc()
			if w.consecutiveHealthFailures >= 2 {
				w.Status = StatusUnhealthy
				delete(p.workers, id)
				for i, idleID := range p.idle {
					if idleID == id {
						p.idle = append(p.idle[:i], p.idle[i+1:]...)
						break
					}
				}
				p.updateGaugesLocked()
				p.mu.Unlock()
				p.log.Warn("worker unhealthy, replacing", zap.String("worker_id", id))
				p.addWorker(context.Background())
				continue
			}
		}
		p.mu.Unlock()
	}
}

// Snapshot returns a copy of the pool's current worker set.
func (p *Pool) Snapshot() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	return out
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateGaugesLocked()
}

func (p *Pool) updateGaugesLocked() {
	var idleN, checkedOutN, unhealthyN, drainingN int
	for _, w := range p.workers {
		switch w.Status {
		case StatusIdle:
			idleN++
		case StatusCheckedOut:
			checkedOutN++
		case StatusUnhealthy:
			unhealthyN++
		case StatusDraining:
			drainingN++
		}
	}
	observability.WorkerPoolSize.WithLabelValues("idle").Set(float64(idleN))
	observability.WorkerPoolSize.WithLabelValues("checked_out").Set(float64(checkedOutN))
	observability.WorkerPoolSize.WithLabelValues("unhealthy").Set(float64(unhealthyN))
	observability.WorkerPoolSize.WithLabelValues("draining").Set(float64(drainingN))
	if safe := p.monitor.SafeWorkerCount(); safe > 0 {
		observability.SchedulerWorkerSaturation.Set(float64(checkedOutN) / float64(safe))
	}
}
