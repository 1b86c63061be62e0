package engine

import (
	"log"

	"github.com/becomeliminal/avadhan/core"
)

// Listener receives engine events synchronously, in registration order.
type Listener func(event core.TrainingEvent)

// AddEventListener returns an engine that also notifies l.
func (e Engine) AddEventListener(l Listener) Engine {
	next := e
	next.listeners = append(append(make([]Listener, 0, len(e.listeners)+1), e.listeners...), l)
	return next
}

// ListenerCount reports how many listeners are registered.
func (e Engine) ListenerCount() int {
	return len(e.listeners)
}

func (e Engine) emit(eventType core.EventType, data interface{}) {
	if len(e.listeners) == 0 {
		return
	}
	event := core.TrainingEvent{
		Type:      eventType,
		ProjectID: e.ProjectID,
		Timestamp: e.now(),
		Data:      data,
	}
	for i, l := range e.listeners {
		notify(i, l, event)
	}
}

// notify delivers one event, recovering a panicking listener so the rest still run.
func notify(i int, l Listener, event core.TrainingEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ENGINE] Event listener #%d panicked on %s for project %s: %v", i+1, event.Type, event.ProjectID, r)
		}
	}()
	l(event)
}
