package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCapacityExceeded = errors.New("worker pool capacity exceeded")
	ErrPoolClosed       = errors.New("worker pool closed")
)

// Task is a unit of work. The context is cancelled only when a shutdown
// deadline expires.
type Task func(ctx context.Context)

// Config configuration for the pool
type Config struct {
	CoreWorkers int           `json:"core_workers"`
	MaxWorkers  int           `json:"max_workers"`
	QueueSize   int           `json:"queue_size"`
	KeepAlive   time.Duration `json:"keep_alive"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CoreWorkers: 2,
		MaxWorkers:  5,
		QueueSize:   32,
		KeepAlive:   time.Minute,
	}
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
	Keys    int `json:"keys"`
}

type job struct {
	key  string
	task Task
	done chan struct{}
}

// Pool runs tasks on a bounded set of workers. Tasks sharing a key run one at
// a time in submission order; tasks with different keys run in parallel.
type Pool struct {
	config Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *job
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers int
	idle    int
	waiting int
	pending map[string]int
	parked  map[string][]*job
}

// New creates a pool and starts its core workers
func New(config Config, logger *zap.Logger) *Pool {
	if config.CoreWorkers < 1 {
		config.CoreWorkers = 1
	}
	if config.MaxWorkers < config.CoreWorkers {
		config.MaxWorkers = config.CoreWorkers
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan *job, config.QueueSize),
		pending: make(map[string]int),
		parked:  make(map[string][]*job),
	}

	p.mu.Lock()
	for i := 0; i < config.CoreWorkers; i++ {
		p.startWorker(true)
	}
	p.mu.Unlock()

	return p
}

// Submit admits task under key. It never blocks: when the pool already holds
// QueueSize tasks that have not started, it fails with ErrCapacityExceeded.
// The returned channel is closed once the task has finished.
func (p *Pool) Submit(key string, task Task) (<-chan struct{}, error) {
	j := &job{key: key, task: task, done: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.waiting >= p.config.QueueSize {
		return nil, ErrCapacityExceeded
	}

	p.waiting++
	p.pending[key]++
	if p.pending[key] > 1 {
		// runs on the worker that finishes the previous task for this key
		p.parked[key] = append(p.parked[key], j)
		return j.done, nil
	}

	p.queue <- j
	if len(p.queue) > p.idle && p.workers < p.config.MaxWorkers {
		p.startWorker(false)
	}
	return j.done, nil
}

// Busy reports whether a task for key is queued or running
func (p *Pool) Busy(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[key] > 0
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers: p.workers,
		Idle:    p.idle,
		Waiting: p.waiting,
		Keys:    len(p.pending),
	}
}

// Shutdown stops admitting tasks and waits for admitted ones to finish. If ctx
// expires first, running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// startWorker must be called with p.mu held
func (p *Pool) startWorker(core bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(core)
}

func (p *Pool) worker(core bool) {
	defer p.wg.Done()

	for {
		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if !core {
			timer = time.NewTimer(p.config.KeepAlive)
			timeout = timer.C
		}

		p.mu.Lock()
		p.idle++
		p.mu.Unlock()

		select {
		case j, ok := <-p.queue:
			if timer != nil {
				timer.Stop()
			}
			p.mu.Lock()
			p.idle--
			if !ok {
				p.workers--
				p.mu.Unlock()
				return
			}
			p.waiting--
			p.mu.Unlock()
			p.runChain(j)

		case <-timeout:
			p.mu.Lock()
			p.idle--
			p.workers--
			p.mu.Unlock()
			return
		}
	}
}

// runChain runs j and then every task parked behind it for the same key.
func (p *Pool) runChain(j *job) {
	for j != nil {
		p.run(j)

		p.mu.Lock()
		key := j.key
		j = nil
		p.pending[key]--
		if queued := p.parked[key]; len(queued) > 0 {
			j = queued[0]
			p.parked[key] = queued[1:]
			p.waiting--
		}
		if p.pending[key] == 0 {
			delete(p.pending, key)
			delete(p.parked, key)
		}
		p.mu.Unlock()
	}
}

func (p *Pool) run(j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				zap.String("key", j.key),
				zap.Any("panic", r))
		}
	}()

	j.task(p.ctx)
}
