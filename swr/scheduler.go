package swr

import (
	"context"
	"sync"
	"time"
)

// RevalidationJob is one unit of background work: refresh the value behind
// key. Load is supplied by CacheService and typically re-runs the original
// loader, then re-populates L1/L2 on success. Errors are swallowed by the
// scheduler (logged by the caller via the OnResult hook) -- a failed
// revalidation simply leaves the stale entry in place until the next reader
// triggers another attempt.
type RevalidationJob struct {
	Key  string
	Load func(ctx context.Context) error
}

// Config holds runtime configuration for Scheduler.
type Config struct {
	// Workers bounds how many revalidations run concurrently, the same
	// bounded-worker-pool shape warming.WorkerPool uses for origin-fetch
	// concurrency.
	Workers int
	// QueueSize bounds the backlog of scheduled-but-not-yet-running jobs.
	QueueSize int
	// JobTimeout bounds how long a single Load call may run.
	JobTimeout time.Duration
}

// DefaultConfig returns Scheduler defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1000, JobTimeout: 10 * time.Second}
}

// Scheduler runs at most one revalidation per key at a time, across a
// bounded worker pool, so a hot stale key doesn't spawn an unbounded
// goroutine per reader the way a naive `go revalidate()` on every stale read
// would.
type Scheduler struct {
	cfg      Config
	queue    chan RevalidationJob
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running map[string]struct{}

	onResult func(key string, err error)
}

// New constructs and starts a Scheduler with cfg.Workers background
// goroutines. onResult, if non-nil, is invoked after every job completes
// (success or failure) for metrics/logging.
func New(cfg Config, onResult func(key string, err error)) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}

	s := &Scheduler{
		cfg:      cfg,
		queue:    make(chan RevalidationJob, cfg.QueueSize),
		stopChan: make(chan struct{}),
		running:  make(map[string]struct{}),
		onResult: onResult,
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}

	return s
}

// ScheduleRevalidation enqueues job unless a revalidation for the same key
// is already running or queued, implementing the "at most one in-flight
// revalidation per key" invariant. Returns true if the job was enqueued.
func (s *Scheduler) ScheduleRevalidation(job RevalidationJob) bool {
	select {
	case <-s.stopChan:
		return false
	default:
	}

	s.mu.Lock()
	if _, inFlight := s.running[job.Key]; inFlight {
		s.mu.Unlock()
		return false
	}
	s.running[job.Key] = struct{}{}
	s.mu.Unlock()

	select {
	case s.queue <- job:
		return true
	default:
		// Queue saturated: drop the job rather than block the caller (a
		// stale-serving reader), and release the in-flight marker so a
		// later reader can try again.
		s.mu.Lock()
		delete(s.running, job.Key)
		s.mu.Unlock()
		return false
	}
}

func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case job := <-s.queue:
			s.runJob(job)
		}
	}
}

func (s *Scheduler) runJob(job RevalidationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	err := job.Load(ctx)
	cancel()

	s.mu.Lock()
	delete(s.running, job.Key)
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(job.Key, err)
	}
}

// InFlight reports whether key currently has a scheduled or running
// revalidation.
func (s *Scheduler) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	return ok
}

// Shutdown stops accepting new work and waits for running jobs to finish.
// Queued-but-not-started jobs are abandoned.
func (s *Scheduler) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
}
