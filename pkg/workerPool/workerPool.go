package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var (
	ErrPoolClosed = errors.New("workerpool: pool closed")
	ErrRoomFull   = errors.New("workerpool: room buffer is full")
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
	closeOnce sync.Once
	closed    chan struct{}
	workers   sync.WaitGroup
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Result is what one task produced. Index is the submission order inside
// its room.
type Result struct {
	Index int
	Value any
	Err   error
}

// Room groups tasks whose results are collected together.
type Room struct {
	ctx        context.Context
	mu         sync.Mutex
	submitted  int
	resultChan chan Result
	wg         sync.WaitGroup
	wp         *WorkerPool
}

type Task struct {
	index int
	run   func(ctx context.Context) (any, error)
	room  *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
		closed:    make(chan struct{}),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) WorkerCount() int {
	return wp.config.WorkerCount
}

// RoomCapacity is the number of tasks one room accepts.
func (wp *WorkerPool) RoomCapacity() int {
	return wp.config.GlobalBuffer
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for t := range wp.taskQueue {
		t.room.execute(t)
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.closed)
		close(wp.taskQueue)
	})
	wp.workers.Wait()
}

// CreateRoom opens a result room bound to ctx. Tasks that start after ctx is
// done report ctx.Err() without running.
func (wp *WorkerPool) CreateRoom(ctx context.Context) *Room {
	return &Room{
		ctx:        ctx,
		resultChan: make(chan Result, wp.config.GlobalBuffer),
		wp:         wp,
	}
}

func (ro *Room) execute(t Task) {
	defer ro.wg.Done()
	if err := ro.ctx.Err(); err != nil {
		ro.resultChan <- Result{Index: t.index, Err: err}
		return
	}
	v, err := t.run(ro.ctx)
	ro.resultChan <- Result{Index: t.index, Value: v, Err: err}
}

// NewTask queues job, blocking while the global queue is full. Tasks must not
// be submitted concurrently with Close.
func (ro *Room) NewTask(job func(ctx context.Context) (any, error)) error {
	select {
	case <-ro.wp.closed:
		return ErrPoolClosed
	default:
	}

	ro.mu.Lock()
	if ro.submitted == cap(ro.resultChan) {
		ro.mu.Unlock()
		return ErrRoomFull
	}
	t := Task{index: ro.submitted, run: job, room: ro}
	ro.submitted++
	ro.mu.Unlock()

	ro.wg.Add(1)
	select {
	case ro.wp.taskQueue <- t:
		return nil
	case <-ro.ctx.Done():
		ro.resultChan <- Result{Index: t.index, Err: ro.ctx.Err()}
		ro.wg.Done()
		return ro.ctx.Err()
	}
}

// Collect waits for every queued task and returns results in submission
// order.
func (ro *Room) Collect() []Result {
	ro.wg.Wait()
	close(ro.resultChan)

	ro.mu.Lock()
	results := make([]Result, ro.submitted)
	ro.mu.Unlock()
	for r := range ro.resultChan {
		results[r.Index] = r
	}
	return results
}
