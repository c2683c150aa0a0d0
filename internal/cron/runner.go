// Package cron runs recurring maintenance jobs
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/config"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

// JobInfo describes a registered job
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type job struct {
	spec    string
	id      cron.EntryID
	fn      JobFunc
	timeout time.Duration
}

// Runner manages scheduled job execution
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	jobs    map[string]*job
	running bool
}

// NewRunner creates a runner that evaluates specs in loc
func NewRunner(loc *time.Location, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())

	cl := cronLogger{logger.Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Add registers fn under name. spec is a standard five-field expression or
// a descriptor such as "@daily" or "@every 30m". Each run is bounded by
// timeout when it is positive.
func (r *Runner) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{spec: spec, fn: fn, timeout: timeout}
	id, err := r.cron.AddFunc(spec, func() { r.execute(name, j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	j.id = id
	r.jobs[name] = j

	r.logger.Debug("Scheduled job added", zap.String("name", name), zap.String("spec", spec))
	return nil
}

// Remove unregisters a job
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[name]; ok {
		r.cron.Remove(j.id)
		delete(r.jobs, name)
	}
}

// RunNow executes a job immediately on the calling goroutine
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.RLock()
	j, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return r.invoke(ctx, j)
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}
	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Jobs lists registered jobs by name
func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobInfo, 0, len(r.jobs))
	for name, j := range r.jobs {
		e := r.cron.Entry(j.id)
		out = append(out, JobInfo{Name: name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (r *Runner) execute(name string, j *job) {
	start := time.Now()
	if err := r.invoke(r.ctx, j); err != nil {
		r.logger.Error("Job execution failed", zap.String("name", name), zap.Error(err))
		return
	}
	r.logger.Debug("Job completed", zap.String("name", name), zap.Duration("elapsed", time.Since(start)))
}

func (r *Runner) invoke(ctx context.Context, j *job) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	return j.fn(ctx)
}

// cronLogger routes the scheduler's own messages to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Maintenance is the store surface the maintenance jobs need.
// *store.Store satisfies it.
type Maintenance interface {
	RunGC() error
	PruneActivity(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job names.
const (
	JobCacheGC       = "cache-gc"
	JobActivityPrune = "activity-prune"
)

// RegisterMaintenance schedules value-log collection for the free/busy cache
// and pruning of old activity entries. An empty spec disables that job.
func RegisterMaintenance(r *Runner, st Maintenance, cfg config.JobsConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.CacheGC != "" {
		err := r.Add(JobCacheGC, cfg.CacheGC, 10*time.Minute, func(context.Context) error {
			return st.RunGC()
		})
		if err != nil {
			return err
		}
	}

	if cfg.ActivityPrune != "" && cfg.ActivityMaxAge > 0 {
		maxAge := time.Duration(cfg.ActivityMaxAge) * 24 * time.Hour
		err := r.Add(JobActivityPrune, cfg.ActivityPrune, time.Minute, func(ctx context.Context) error {
			n, err := st.PruneActivity(ctx, time.Now().Add(-maxAge))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("Pruned activity log", zap.Int64("removed", n))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
