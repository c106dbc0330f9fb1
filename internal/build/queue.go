package build

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conneroisu/flick/internal/logging"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("compile queue is closed")

// QueueState is the lifecycle state of a CompileQueue.
type QueueState int

const (
	// QueueIdle means no drain loop is running.
	QueueIdle QueueState = iota
	// QueueDraining means a single drain loop is executing jobs.
	QueueDraining
	// QueueClosed is terminal.
	QueueClosed
)

func (s QueueState) String() string {
	switch s {
	case QueueIdle:
		return "idle"
	case QueueDraining:
		return "draining"
	case QueueClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CompileJob is one pending compilation request from a client session.
type CompileJob struct {
	Source     string
	ModuleName string
	RequestID  string
	SessionID  string
	EnqueuedAt time.Time
}

// CompileResult is either CompileSucceeded or CompileFailed.
type CompileResult interface {
	compileResult()
}

// CompileSucceeded carries the artifact, already stored in the cache.
type CompileSucceeded struct {
	Artifact *Artifact
}

// CompileFailed carries the compiler error.
type CompileFailed struct {
	Err error
}

func (CompileSucceeded) compileResult() {}
func (CompileFailed) compileResult()    {}

// CompileOutcome pairs a finished job with its result.
type CompileOutcome struct {
	Job      CompileJob
	Result   CompileResult
	Duration time.Duration
}

// OutcomeHandler receives every outcome in job order. It is called from the
// drain goroutine and should not block for long.
type OutcomeHandler func(CompileOutcome)

// CompileQueue runs compile jobs one at a time in FIFO order. A drain
// goroutine is started by the first Enqueue while idle and exits when the
// queue is empty.
type CompileQueue struct {
	compiler Compiler
	cache    *ModuleCache
	metrics  *CompileMetrics
	handler  OutcomeHandler
	pause    time.Duration
	logger   logging.Logger

	mu           sync.Mutex
	pending      []CompileJob
	state        QueueState
	lastFinished time.Time

	// execMu is held for the whole Compile+Put of a job.
	execMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CompileQueueConfig configures a CompileQueue.
type CompileQueueConfig struct {
	Compiler Compiler
	Cache    *ModuleCache
	Metrics  *CompileMetrics
	Handler  OutcomeHandler
	Pause    time.Duration
	Logger   logging.Logger
}

// NewCompileQueue creates an idle queue.
func NewCompileQueue(cfg CompileQueueConfig) *CompileQueue {
	ctx, cancel := context.WithCancel(context.Background())

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	handler := cfg.Handler
	if handler == nil {
		handler = func(CompileOutcome) {}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewCompileMetrics()
	}

	return &CompileQueue{
		compiler: cfg.Compiler,
		cache:    cfg.Cache,
		metrics:  metrics,
		handler:  handler,
		pause:    cfg.Pause,
		logger:   logger.WithComponent("compile_queue"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue appends job and starts draining if the queue is idle.
func (q *CompileQueue) Enqueue(job CompileJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == QueueClosed {
		return ErrQueueClosed
	}

	q.pending = append(q.pending, job)
	q.logger.Debug(q.ctx, "Compile job queued",
		"module", job.ModuleName, "request_id", job.RequestID, "pending", len(q.pending))

	if q.state == QueueIdle {
		q.state = QueueDraining
		q.wg.Add(1)
		go q.drain()
	}

	return nil
}

// Pending returns the number of jobs waiting to run.
func (q *CompileQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// State returns the current queue state.
func (q *CompileQueue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Pending int    `json:"pending"`
	State   string `json:"state"`
}

// Stats returns the pending count and state.
func (q *CompileQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.pending), State: q.state.String()}
}

// Metrics returns the metrics recorded by this queue.
func (q *CompileQueue) Metrics() *CompileMetrics {
	return q.metrics
}

// Close discards pending jobs, cancels the running compile and waits for
// the drain goroutine. Outcomes of the cancelled job are not delivered.
func (q *CompileQueue) Close() {
	q.mu.Lock()
	if q.state == QueueClosed {
		q.mu.Unlock()
		return
	}
	discarded := len(q.pending)
	q.state = QueueClosed
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if discarded > 0 {
		q.logger.Info(context.Background(), "Discarded pending compile jobs", "count", discarded)
	}
}

func (q *CompileQueue) drain() {
	defer q.wg.Done()

	for {
		job, ok := q.next()
		if !ok {
			return
		}

		if !q.sleep(q.untilNextStart()) {
			return
		}

		outcome := q.execute(job)
		q.markFinished()

		if q.isClosed() {
			return
		}
		q.handler(outcome)
	}
}

// untilNextStart returns how much of the pause after the previous job is
// left. The gap holds across idle periods, so a fresh drain waits too.
func (q *CompileQueue) untilNextStart() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pause <= 0 || q.lastFinished.IsZero() {
		return 0
	}
	return q.pause - time.Since(q.lastFinished)
}

func (q *CompileQueue) markFinished() {
	q.mu.Lock()
	q.lastFinished = time.Now()
	q.mu.Unlock()
}

// next pops the head job or moves the queue back to idle.
func (q *CompileQueue) next() (CompileJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == QueueClosed {
		return CompileJob{}, false
	}
	if len(q.pending) == 0 {
		q.state = QueueIdle
		return CompileJob{}, false
	}

	job := q.pending[0]
	q.pending[0] = CompileJob{}
	q.pending = q.pending[1:]
	return job, true
}

func (q *CompileQueue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

func (q *CompileQueue) execute(job CompileJob) CompileOutcome {
	q.execMu.Lock()
	defer q.execMu.Unlock()

	op := logging.StartOperation(q.logger, "compile")
	outcome := CompileOutcome{Job: job}

	artifact, err := q.compiler.Compile(q.ctx, job.Source, job.ModuleName)
	if err == nil && q.cache != nil {
		_, err = q.cache.Put(artifact)
	}

	outcome.Duration = op.Elapsed()
	q.metrics.RecordCompile(outcome.Duration, err)

	if err != nil {
		op.EndWithError(q.ctx, err, "module", job.ModuleName, "request_id", job.RequestID)
		outcome.Result = CompileFailed{Err: err}
		return outcome
	}

	op.End(q.ctx, "module", job.ModuleName, "module_id", artifact.ID, "size", artifact.Size)
	outcome.Result = CompileSucceeded{Artifact: artifact}
	return outcome
}

func (q *CompileQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == QueueClosed
}
