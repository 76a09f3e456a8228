package projector

import (
	"github.com/robfig/cron"
)

// Scheduler drives a periodic full ComputeProjection/Persist cycle on a
// cron schedule, as a backstop alongside the event-driven
// IncrementalUpdate path (in case a watcher event is ever missed).
type Scheduler struct {
	projector *Projector
	cron      *cron.Cron
}

// NewScheduler wires a Scheduler for projector. spec is a standard
// five-field cron expression (e.g. "*/15 * * * *" for every 15
// minutes).
func NewScheduler(projector *Projector, spec string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{projector: projector, cron: c}
	if err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	data, err := s.projector.ComputeProjection()
	if err != nil {
		s.projector.log.WithError(err).Error("scheduled projection rebuild failed")
		return
	}
	if err := s.projector.sink.Persist(s.projector.repoIdentifier, *data); err != nil {
		s.projector.log.WithError(err).Error("scheduled projection persist failed")
	}
}

// Start begins running the scheduled rebuild.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler; pending runs are allowed to finish.
func (s *Scheduler) Stop() { s.cron.Stop() }
