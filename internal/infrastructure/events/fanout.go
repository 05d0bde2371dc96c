package events

import (
	"sync"

	"github.com/vitos/options_cycle_trader/internal/domain"
)

// Fanout forwards every event to each attached sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []domain.EventSink
}

func NewFanout(sinks ...domain.EventSink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

func (f *Fanout) Add(s domain.EventSink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(e domain.Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(e)
	}
}
