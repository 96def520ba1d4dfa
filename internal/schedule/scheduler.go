package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "rotabot/pkg/logx"
)

// Scheduler runs the two weekly triggers on top of robfig/cron.
//
// Each Kind owns exactly one cron entry. Apply() swaps that entry without
// touching the other one, so /setschedule and /setautopop stay independent.
type Scheduler struct {
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entries map[Kind]cron.EntryID
	specs   map[Kind]Spec
	jobs    map[Kind]func()
	started bool
}

func New(loc *time.Location, log logx.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:     log,
		loc:     loc,
		c:       cron.New(cron.WithLocation(loc)),
		entries: map[Kind]cron.EntryID{},
		specs:   map[Kind]Spec{},
		jobs:    map[Kind]func(){},
	}
}

// Register binds a job to a trigger kind and installs its initial spec.
func (s *Scheduler) Register(kind Kind, spec Spec, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[kind] = job
	return s.applyLocked(kind, spec)
}

// Apply replaces the trigger time for one kind. The job stays the same.
func (s *Scheduler) Apply(kind Kind, spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[kind] == nil {
		return fmt.Errorf("no job registered for %s trigger", kind)
	}
	return s.applyLocked(kind, spec)
}

func (s *Scheduler) applyLocked(kind Kind, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	job := s.jobs[kind]

	if id, ok := s.entries[kind]; ok {
		s.c.Remove(id)
		delete(s.entries, kind)
	}
	id, err := s.c.AddFunc(spec.CronSpec(), job)
	if err != nil {
		return fmt.Errorf("register %s trigger: %w", kind, err)
	}
	s.entries[kind] = id
	s.specs[kind] = spec
	s.log.Info("trigger registered",
		logx.String("kind", string(kind)),
		logx.String("at", spec.String()),
		logx.String("tz", s.loc.String()),
	)
	return nil
}

// Spec returns the currently installed spec for a kind.
func (s *Scheduler) Spec(kind Kind) (Spec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.specs[kind]
	return sp, ok
}

// Next reports the next fire time for a kind (zero if not registered or not started).
func (s *Scheduler) Next(kind Kind) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[kind]
	if !ok {
		return time.Time{}
	}
	return s.c.Entry(id).Next
}

func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.entries)))
}

// Stop halts triggering and waits for any in-flight job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.mu.Unlock()

	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}
