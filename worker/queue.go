// Package worker provides a named, serialized task executor: the worker
// execution context that bitrate-allocator registration and callback
// delivery run on.
//
// Tasks posted to a Queue execute one at a time, in posting order, on a
// single dedicated goroutine. PostAndWait gives callers a blocking
// rendezvous: it returns only after the task has run to completion on the
// queue, which is how the stream guarantees that allocator registration
// state is sequentially consistent with Start/Stop returning.
package worker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// taskBuffer bounds how many tasks may be pending before Post blocks.
const taskBuffer = 64

// Queue executes posted tasks sequentially on one goroutine.
type Queue struct {
	name  string
	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue and starts its executor goroutine.
//
// The name appears in log output to distinguish multiple queues.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:  name,
		tasks: make(chan func(), taskBuffer),
		done:  make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewQueue",
		"queue":    name,
	}).Debug("Starting worker queue")

	go q.run()
	return q
}

// run is the executor loop. It drains remaining tasks on close so posted
// work is never silently discarded.
func (q *Queue) run() {
	for task := range q.tasks {
		task()
	}
	close(q.done)
}

// Post enqueues a task for asynchronous execution. It reports whether the
// task was accepted; posting to a closed queue drops the task.
func (q *Queue) Post(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Post",
			"queue":    q.name,
		}).Error("Task posted to closed worker queue")
		return false
	}
	q.tasks <- task
	q.mu.Unlock()
	return true
}

// PostAndWait enqueues a task and blocks until it has executed.
//
// There is no timeout: the queue is assumed live for the lifetime of its
// clients, and a bounded wait would break the sequential consistency the
// rendezvous exists to provide. Reports whether the task ran.
func (q *Queue) PostAndWait(task func()) bool {
	ran := make(chan struct{})
	if !q.Post(func() {
		task()
		close(ran)
	}) {
		return false
	}
	<-ran
	return true
}

// Close stops accepting tasks, runs everything already queued, and waits
// for the executor goroutine to exit. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"queue":    q.name,
	}).Debug("Worker queue stopped")
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string {
	return q.name
}
