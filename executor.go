package xevent

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// Ordering selects how the shared executor queue hands out work.
type Ordering string

const (
	// OrderFIFO runs queued tasks by event serial.
	OrderFIFO Ordering = "fifo"
	// OrderPriority runs higher Priority events first, then by serial.
	OrderPriority Ordering = "priority"
	// OrderNone starts a goroutine per task without queuing.
	OrderNone Ordering = "none"
)

// ParseOrdering converts a configuration string to an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(s); o {
	case OrderFIFO, OrderPriority, OrderNone:
		return o, nil
	case "":
		return OrderFIFO, nil
	}
	return "", fmt.Errorf("xevent: unknown ordering %q", s)
}

type task struct {
	priority int
	serial   uint64
	seq      uint64
	run      func()
}

type taskHeap struct {
	tasks    []*task
	priority bool
}

func (h *taskHeap) Len() int { return len(h.tasks) }

func (h *taskHeap) Less(i, j int) bool {
	a, b := h.tasks[i], h.tasks[j]
	if h.priority && a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.serial != b.serial {
		return a.serial < b.serial
	}
	return a.seq < b.seq
}

func (h *taskHeap) Swap(i, j int) { h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i] }

func (h *taskHeap) Push(x any) { h.tasks = append(h.tasks, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := h.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.tasks = old[:n-1]
	return t
}

// executor is the worker pool shared by every subscriber of one bus. Tasks that
// submit further tasks keep the pool alive while it drains.
type executor struct {
	ordering Ordering
	workers  int
	onPanic  func(r any)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	seq     uint64
	active  int
	closing bool
	stopped bool

	wg sync.WaitGroup
}

func newExecutor(workers int, ordering Ordering, onPanic func(r any)) *executor {
	if workers < 1 {
		workers = 1
	}
	e := &executor{
		ordering: ordering,
		workers:  workers,
		onPanic:  onPanic,
		queue:    taskHeap{priority: ordering == OrderPriority},
	}
	e.cond = sync.NewCond(&e.mu)
	if ordering != OrderNone {
		for i := 0; i < workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	}
	return e
}

// submit queues fn. It fails with ErrBusClosed once the executor fully stopped.
func (e *executor) submit(priority int, serial uint64, fn func()) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrBusClosed
	}
	e.seq++
	if e.ordering == OrderNone {
		e.active++
		e.mu.Unlock()
		go func() {
			e.execute(fn)
			e.mu.Lock()
			e.active--
			idle := e.active == 0
			e.mu.Unlock()
			if idle {
				e.cond.Broadcast()
			}
		}()
		return nil
	}
	heap.Push(&e.queue, &task{priority: priority, serial: serial, seq: e.seq, run: fn})
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

func (e *executor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !(e.closing && e.active == 0) {
			e.cond.Wait()
		}
		if e.queue.Len() == 0 {
			e.stopped = true
			e.mu.Unlock()
			e.cond.Broadcast()
			return
		}
		t := heap.Pop(&e.queue).(*task)
		e.active++
		e.mu.Unlock()

		e.execute(t.run)

		e.mu.Lock()
		e.active--
		idle := e.closing && e.active == 0 && e.queue.Len() == 0
		e.mu.Unlock()
		if idle {
			e.cond.Broadcast()
		}
	}
}

func (e *executor) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
	}()
	fn()
}

// queued returns the number of tasks waiting for a worker.
func (e *executor) queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// close lets queued and in-flight tasks finish, including tasks they submit, then
// stops the workers. It returns ctx.Err() if ctx ends first; draining continues.
func (e *executor) close(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	e.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		if e.ordering == OrderNone {
			e.mu.Lock()
			for e.active > 0 {
				e.cond.Wait()
			}
			e.stopped = true
			e.mu.Unlock()
		}
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
