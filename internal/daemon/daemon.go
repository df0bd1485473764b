// Package daemon runs tasks in the background: one engine goroutine per
// submitted task, plus scheduled maintenance of the task store.
package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/task"
	"github.com/openkoi/openkoi/internal/taskstore"
)

// Options tunes the daemon beyond its collaborators.
type Options struct {
	// MaintenanceCron schedules store pruning; empty disables it.
	MaintenanceCron string
	// Retention is how long finished tasks are kept; <= 0 disables
	// pruning even when a schedule is set.
	Retention time.Duration
	Logger    *logging.Logger
}

// Daemon owns the set of running tasks. Engines are created per task
// through the factory so each run gets fresh collaborators.
type Daemon struct {
	newEngine func() *engine.Engine
	store     *taskstore.Store
	retention time.Duration
	log       *logging.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc
	cron      *cron.Cron

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a daemon. Start must be called before submitting work.
func New(newEngine func() *engine.Engine, store *taskstore.Store, opts Options) *Daemon {
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		newEngine: newEngine,
		store:     store,
		retention: opts.Retention,
		log:       log.WithComponent("daemon"),
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]context.CancelFunc),
	}
	if opts.MaintenanceCron != "" && opts.Retention > 0 {
		d.cron = cron.New()
		if _, err := d.cron.AddFunc(opts.MaintenanceCron, d.maintain); err != nil {
			d.log.Warn("invalid maintenance schedule", map[string]interface{}{
				"cron": opts.MaintenanceCron, "error": err.Error(),
			})
			d.cron = nil
		}
	}
	return d
}

// Start begins scheduled maintenance.
func (d *Daemon) Start() {
	if d.cron != nil {
		d.cron.Start()
	}
}

// Submit registers a task and starts its engine in the background. The
// run outlives the submitting request: it is bound to the daemon's
// lifetime, not to ctx.
func (d *Daemon) Submit(ctx context.Context, description, category string, limits task.Limits) (*task.Task, error) {
	t, err := task.New(description, limits)
	if err != nil {
		return nil, err
	}
	t.Category = category

	if err := d.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	runCtx, cancel := context.WithCancel(d.baseCtx)
	d.mu.Lock()
	d.running[t.ID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(runCtx, cancel, t)

	return t, nil
}

func (d *Daemon) run(ctx context.Context, cancel context.CancelFunc, t *task.Task) {
	defer d.wg.Done()
	defer cancel()
	defer func() {
		d.mu.Lock()
		delete(d.running, t.ID)
		d.mu.Unlock()
	}()

	res, err := d.newEngine().Run(ctx, t)
	fields := map[string]interface{}{"task_id": t.ID}
	if res != nil {
		fields["decision"] = string(res.Decision)
		fields["iterations"] = res.Iterations
	}
	if err != nil {
		fields["error"] = err.Error()
		d.log.Warn("task run ended with error", fields)
		return
	}
	d.log.Info("task run finished", fields)
}

// Cancel requests cancellation of a running task. Returns false when no
// task with that ID is running.
func (d *Daemon) Cancel(id string) bool {
	d.mu.Lock()
	cancel, ok := d.running[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Running lists the IDs of in-flight tasks, sorted for stable output.
func (d *Daemon) Running() []string {
	d.mu.Lock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every running task and waits for their engines to
// finish recording, bounded by ctx.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if d.cron != nil {
		d.cron.Stop()
	}
	d.cancelAll()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out with tasks still draining: %w", ctx.Err())
	}
}

func (d *Daemon) maintain() {
	ctx, cancel := context.WithTimeout(d.baseCtx, time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-d.retention)
	pruned, err := d.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		d.log.Warn("maintenance prune failed", map[string]interface{}{"error": err.Error()})
		return
	}
	d.log.Info("maintenance prune complete", map[string]interface{}{
		"pruned": pruned, "cutoff": cutoff.Format(time.RFC3339),
	})
}
