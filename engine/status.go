package engine

import (
	"fmt"
	"log"

	"github.com/becomeliminal/avadhan/core"
)

// allowed lists the statuses each transition may start from.
var allowed = map[core.Status][]core.Status{
	core.StatusTraining:  {core.StatusIdle, core.StatusInitializing, core.StatusPaused},
	core.StatusPaused:    {core.StatusTraining},
	core.StatusCompleted: {core.StatusIdle, core.StatusInitializing, core.StatusTraining, core.StatusPaused},
}

func (e Engine) transition(to core.Status) (Engine, error) {
	if e.Status == core.StatusCompleted {
		return e, e.reject("transition to "+string(to), core.ErrEngineCompleted)
	}
	for _, from := range allowed[to] {
		if e.Status == from {
			log.Printf("[ENGINE] Project %s: %s -> %s", e.ProjectID, e.Status, to)
			next := e
			next.Status = to
			return next, nil
		}
	}
	return e, e.reject("transition to "+string(to),
		fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, e.Status, to))
}

// StartTraining moves an idle, initializing or paused engine to training.
func (e Engine) StartTraining() (Engine, error) {
	return e.transition(core.StatusTraining)
}

// PauseTraining moves a training engine to paused. Pausing only records the
// status; callers stop issuing TrainingStep themselves.
func (e Engine) PauseTraining() (Engine, error) {
	return e.transition(core.StatusPaused)
}

// StopTraining completes the engine. Nothing leaves completed.
func (e Engine) StopTraining() (Engine, error) {
	return e.transition(core.StatusCompleted)
}
