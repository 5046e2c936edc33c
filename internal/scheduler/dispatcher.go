package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jonesrussell/north-cloud/scraparr/internal/logger"
	"github.com/jonesrussell/north-cloud/scraparr/internal/observability"
	"github.com/jonesrussell/north-cloud/scraparr/internal/runtime"
)

var (
	// ErrDispatcherStopped is returned for work submitted after Stop, and
	// for queued work dropped by Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrDispatcherNotRunning is returned when Submit is called before Start.
	ErrDispatcherNotRunning = errors.New("dispatcher not running")
)

// dispatcherState mirrors the lifecycle of the pool.
type dispatcherState int32

const (
	stateStopped dispatcherState = iota
	stateRunning
	stateDraining
)

// Executor runs one invocation to completion.
type Executor interface {
	Execute(ctx context.Context, inv runtime.Invocation, onStart func(executionID int64)) (runtime.Result, error)
}

// Ticket tracks one submitted invocation.
type Ticket struct {
	started chan int64
	done    chan struct{}

	result runtime.Result
	err    error
}

func newTicket() *Ticket {
	return &Ticket{started: make(chan int64, 1), done: make(chan struct{})}
}

// Started returns the execution id once the execution row exists. It returns
// the invocation error if the invocation ended before an execution started,
// or the context error if ctx ends first.
func (t *Ticket) Started(ctx context.Context) (int64, error) {
	select {
	case id := <-t.started:
		t.started <- id
		return id, nil
	case <-t.done:
		select {
		case id := <-t.started:
			t.started <- id
			return id, nil
		default:
			return 0, t.err
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done is closed when the invocation finished or was dropped.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. Only valid after Done is closed.
func (t *Ticket) Result() (runtime.Result, error) {
	return t.result, t.err
}

func (t *Ticket) finish(res runtime.Result, err error) {
	t.result, t.err = res, err
	close(t.done)
}

type task struct {
	inv    runtime.Invocation
	ticket *Ticket
}

// Dispatcher runs invocations on a fixed number of workers. Submissions are
// queued FIFO without bound and never block; the execution row is created
// only when a worker picks the task up, so at most `workers` executions run.
type Dispatcher struct {
	executor Executor
	workers  int
	logger   logger.Logger
	metrics  *observability.Metrics

	state  atomic.Int32
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*task
	busy   int
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(executor Executor, workers int, log logger.Logger, metrics *observability.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{executor: executor, workers: workers, logger: log, metrics: metrics}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the workers. ctx bounds every execution; it is cancelled
// by Stop when draining times out.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(stateStopped), int32(stateRunning)) {
		return errors.New("dispatcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := range d.workers {
		d.wg.Add(1)
		go d.work(runCtx, i)
	}

	d.logger.Info("Dispatcher started", logger.Int("workers", d.workers))
	return nil
}

// Submit queues an invocation.
func (d *Dispatcher) Submit(inv runtime.Invocation) (*Ticket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch dispatcherState(d.state.Load()) {
	case stateRunning:
	case stateDraining:
		return nil, ErrDispatcherStopped
	default:
		return nil, ErrDispatcherNotRunning
	}

	t := &task{inv: inv, ticket: newTicket()}
	d.queue = append(d.queue, t)
	d.metrics.SetQueueState(len(d.queue), d.busy)
	d.cond.Signal()

	return t.ticket, nil
}

// QueueState returns queued and running task counts.
func (d *Dispatcher) QueueState() (queued, running int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue), d.busy
}

// Stop stops accepting work, drops queued tasks and waits for in-flight
// executions until ctx ends. Then the executions' context is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.state.CompareAndSwap(int32(stateRunning), int32(stateDraining)) {
		d.mu.Unlock()
		return nil
	}
	dropped := d.queue
	d.queue = nil
	d.metrics.SetQueueState(0, d.busy)
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, t := range dropped {
		t.ticket.finish(runtime.Result{}, ErrDispatcherStopped)
		d.logger.Warn("Dropped queued invocation on shutdown",
			logger.Int64("scraper_id", t.inv.ScraperID),
			logger.Any("job_id", t.inv.JobID),
		)
	}
	d.metrics.RecordDropped(len(dropped))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	defer d.state.Store(int32(stateStopped))

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Dispatcher stopped gracefully", logger.Int("dropped", len(dropped)))
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Dispatcher drain timed out, cancelling running executions")
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		t := d.next()
		if t == nil {
			return
		}
		d.run(ctx, id, t)

		d.mu.Lock()
		d.busy--
		d.metrics.SetQueueState(len(d.queue), d.busy)
		d.mu.Unlock()
	}
}

// next blocks until a task is queued or the dispatcher drains.
func (d *Dispatcher) next() *task {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.queue) == 0 && dispatcherState(d.state.Load()) == stateRunning {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return nil
	}

	t := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.busy++
	d.metrics.SetQueueState(len(d.queue), d.busy)
	return t
}

func (d *Dispatcher) run(ctx context.Context, worker int, t *task) {
	res, err := d.executor.Execute(ctx, t.inv, func(executionID int64) {
		t.ticket.started <- executionID
	})
	if err != nil {
		d.logger.Warn("Invocation rejected",
			logger.Int("worker", worker),
			logger.Int64("scraper_id", t.inv.ScraperID),
			logger.Any("job_id", t.inv.JobID),
			logger.Error(err),
		)
	}
	t.ticket.finish(res, err)
}
