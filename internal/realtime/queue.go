// ABOUTME: Keyed FIFO work queue running one task at a time per key
// ABOUTME: Different keys run concurrently; idle keys hold no goroutine

package realtime

import "sync"

type keyedTasks struct {
	tasks []func()
}

// serialQueue runs tasks in submission order per key.
type serialQueue struct {
	mu     sync.Mutex
	queues map[string]*keyedTasks
	wg     sync.WaitGroup
}

func newSerialQueue() *serialQueue {
	return &serialQueue{queues: make(map[string]*keyedTasks)}
}

// Do schedules fn after every task already queued for key.
func (q *serialQueue) Do(key string, fn func()) {
	q.mu.Lock()
	kt, running := q.queues[key]
	if !running {
		kt = &keyedTasks{}
		q.queues[key] = kt
		q.wg.Add(1)
	}
	kt.tasks = append(kt.tasks, fn)
	q.mu.Unlock()

	if !running {
		go q.drain(key, kt)
	}
}

func (q *serialQueue) drain(key string, kt *keyedTasks) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(kt.tasks) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		fn := kt.tasks[0]
		kt.tasks = kt.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until every queued task has run.
func (q *serialQueue) Wait() {
	q.wg.Wait()
}
