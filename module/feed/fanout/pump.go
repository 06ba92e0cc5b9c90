package fanout

import (
	"sync"

	"PPNotify/logger"
	"PPNotify/module/feed/model"
	"PPNotify/tools/safe"

	"go.uber.org/zap"
)

// Sink receives every published notification, in publish order, outside the
// fanout lock.
type Sink interface {
	Name() string
	Mirror(n model.Notification) error
}

const DefaultPumpBuffer = 1024

// Pump hands published notifications to the external sinks from one worker
// goroutine. Offer never blocks: a full buffer drops the notification.
type Pump struct {
	mu     sync.Mutex
	jobs   chan model.Notification
	closed bool
	sinks  []Sink
	done   chan struct{}
}

func NewPump(buffer int, sinks ...Sink) *Pump {
	if buffer <= 0 {
		buffer = DefaultPumpBuffer
	}
	p := &Pump{
		jobs:  make(chan model.Notification, buffer),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pump) run() {
	defer close(p.done)
	for n := range p.jobs {
		for _, s := range p.sinks {
			p.mirror(s, n)
		}
	}
}

func (p *Pump) mirror(s Sink, n model.Notification) {
	defer safe.Recover("fanout.pump."+s.Name(), nil)
	if err := s.Mirror(n); err != nil {
		logger.Warn("mirror sink failed", zap.String("sink", s.Name()), zap.Uint32("id", n.ID), zap.Error(err))
	}
}

// Offer queues n for the sinks and reports whether it was accepted.
func (p *Pump) Offer(n model.Notification) bool {
	if len(p.sinks) == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- n:
		return true
	default:
		logger.Warn("mirror buffer full, dropping notification", zap.Uint32("id", n.ID), zap.String("author", n.Author))
		return false
	}
}

// Close stops accepting work and waits for the worker to flush what is queued.
func (p *Pump) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	<-p.done
}
