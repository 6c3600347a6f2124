package bot

import (
	"fmt"
	"sync"

	"github.com/apex/log"
)

// lanes runs work in submission order per key. Different keys run in
// parallel. A lane goroutine only lives while its key has queued work.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// run queues fn behind any pending work of the same key.
func (l *lanes) run(key string, fn func()) {
	l.mu.Lock()
	q, busy := l.queues[key]
	l.queues[key] = append(q, fn)
	if busy {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go l.drain(key)
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		l.queues[key] = q[1:]
		l.mu.Unlock()

		l.call(key, fn)
	}
}

// call runs fn and keeps a panic from taking the lane and the process down.
func (l *lanes) call(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"key": key, "panic": fmt.Sprint(r)}).Error("interaction handler panicked")
		}
	}()
	fn()
}

// wait blocks until every queued function has returned.
func (l *lanes) wait() {
	l.wg.Wait()
}
