package remote

import "sync"

// Dispatcher delivers snapshots to a WatchFunc on its own goroutine. Only
// the newest undelivered snapshot is kept: every value is a full copy of the
// node, so older pending ones carry nothing the newest does not.
type Dispatcher struct {
	fn      WatchFunc
	mu      sync.Mutex
	pending *Snapshot
	stopped bool
	signal  chan struct{}
	done    chan struct{}
	exited  chan struct{}
}

func NewDispatcher(fn WatchFunc) *Dispatcher {
	d := &Dispatcher{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go d.run()
	return d
}

// Push queues s, replacing any snapshot still waiting. It never blocks.
func (d *Dispatcher) Push(s Snapshot) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = &s
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
			d.mu.Lock()
			s := d.pending
			d.pending = nil
			stopped := d.stopped
			d.mu.Unlock()
			if s != nil && !stopped {
				d.fn(*s)
			}
		}
	}
}

// Stop discards pending snapshots and ends the delivery goroutine. It does
// not wait for a callback already running.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.pending = nil
	close(d.done)
}

// Wait blocks until the delivery goroutine has exited.
func (d *Dispatcher) Wait() {
	<-d.exited
}
