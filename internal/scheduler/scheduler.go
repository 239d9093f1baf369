// Package scheduler implements the runtime's Scheduler: a named cron task
// registry with drop-if-running collision policy, built on robfig/cron/v3.
package scheduler

import (
	"sync"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/robfig/cron/v3"
)

// TaskFunc is the unit of work a scheduled task invokes on each fire. It is
// always run fire-and-forget; panics and errors are caught and logged, and
// never affect future firings.
type TaskFunc func()

// Options configures a single schedule() call.
type Options struct {
	Name     string
	Timezone *time.Location
	StartNow bool
}

// TaskStatus is a read-only view of one registered task, returned by
// Status().
type TaskStatus struct {
	ID            string
	Name          string
	Cron          string
	Active        bool
	NextFireTime  *time.Time
}

type task struct {
	id       string
	name     string
	cronExpr string
	fn       TaskFunc
	loc      *time.Location
	entryID  cron.EntryID
	active   bool
}

// Scheduler is a named, cron-driven task registry. All exported methods are
// safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	parser    cron.ScheduleParser
	tasks     map[string]*task
	logger    core.Logger
	destroyed bool
}

// New constructs a Scheduler. Second-resolution granularity is supported
// (spec §4.3): the parser accepts 5- or 6-field expressions.
func New(logger core.Logger) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogAdapter{logger})))
	return &Scheduler{
		cron:   c,
		parser: parser,
		tasks:  make(map[string]*task),
		logger: logger,
	}
}

// cronLogAdapter lets cron.Recover log through our Logger instead of its
// own stdlib logger.
type cronLogAdapter struct{ logger core.Logger }

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, fieldsFromPairs(keysAndValues))
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := fieldsFromPairs(keysAndValues)
	fields["error"] = err.Error()
	a.logger.Error(msg, fields)
}

func fieldsFromPairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}

// Schedule registers task_fn under id with the given cron expression.
// Rejects invalid cron expressions and duplicate ids.
func (s *Scheduler) Schedule(id, cronExpr string, fn TaskFunc, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return core.NewFrameworkError("Scheduler.Schedule", "scheduler", core.ErrSchedulerDestroyed)
	}
	if _, exists := s.tasks[id]; exists {
		return core.NewFrameworkError("Scheduler.Schedule", "scheduler", core.ErrDuplicateTaskID)
	}

	if _, err := s.parser.Parse(cronExpr); err != nil {
		return core.NewFrameworkError("Scheduler.Schedule", "scheduler", core.ErrInvalidCronExpression)
	}

	name := opts.Name
	if name == "" {
		name = id
	}

	t := &task{id: id, name: name, cronExpr: cronExpr, fn: fn, loc: opts.Timezone}

	entryID, err := s.addEntry(t)
	if err != nil {
		return err
	}
	t.entryID = entryID
	t.active = true
	s.tasks[id] = t

	if opts.StartNow {
		// Run through the entry's wrapped job so this run and cron fires
		// share the drop-if-running wrapper.
		job := s.cron.Entry(entryID).WrappedJob
		go job.Run()
	}

	return nil
}

// addEntry parses t's cron expression fresh and registers it with the
// underlying cron.Cron, wrapped in the drop-if-running collision policy.
// Parsing fresh (rather than reusing a stored cron.Schedule) keeps Start
// and Schedule on one code path.
func (s *Scheduler) addEntry(t *task) (cron.EntryID, error) {
	schedule, err := s.parser.Parse(t.cronExpr)
	if err != nil {
		return 0, core.NewFrameworkError("Scheduler.Schedule", "scheduler", core.ErrInvalidCronExpression)
	}
	if t.loc != nil {
		schedule = &locatedSchedule{inner: schedule, loc: t.loc}
	}

	id := t.id
	fn := t.fn
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogAdapter{s.logger})).Then(cron.FuncJob(func() {
		s.runTask(id, fn)
	}))

	return s.cron.Schedule(schedule, wrapped), nil
}

// locatedSchedule adapts a cron.Schedule to evaluate Next() against times
// converted into a fixed location, since robfig/cron/v3 itself schedules
// against whatever location is attached to the time it's given.
type locatedSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (l *locatedSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}

func (s *Scheduler) runTask(id string, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: task panicked", map[string]interface{}{
				"task_id": id,
				"panic":   r,
			})
		}
	}()
	fn()
}

// Start activates a previously stopped task so it resumes firing.
func (s *Scheduler) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.NewFrameworkError("Scheduler.Start", "scheduler", core.ErrOperationNotFound)
	}
	if t.active {
		return nil
	}
	entryID, err := s.addEntry(t)
	if err != nil {
		return err
	}
	t.entryID = entryID
	t.active = true
	return nil
}

// Stop deactivates the task identified by id without removing it; its cron
// entry is removed from the underlying cron.Cron but the registration is
// retained so Start can re-add it.
func (s *Scheduler) Stop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.NewFrameworkError("Scheduler.Stop", "scheduler", core.ErrOperationNotFound)
	}
	if !t.active {
		return nil
	}
	s.cron.Remove(t.entryID)
	t.active = false
	return nil
}

// Remove stops and permanently deletes the task identified by id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.NewFrameworkError("Scheduler.Remove", "scheduler", core.ErrOperationNotFound)
	}
	if t.active {
		s.cron.Remove(t.entryID)
	}
	delete(s.tasks, id)
	return nil
}

// StartAll activates every currently stopped task.
func (s *Scheduler) StartAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id, t := range s.tasks {
		if !t.active {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Start(id)
	}
}

// StopAll deactivates every currently active task.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.active {
			s.cron.Remove(t.entryID)
			t.active = false
		}
	}
}

// DestroyAll stops every task and permanently disables the scheduler:
// subsequent Schedule calls are rejected.
func (s *Scheduler) DestroyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.active {
			s.cron.Remove(t.entryID)
			t.active = false
		}
	}
	s.tasks = make(map[string]*task)
	s.destroyed = true
}

// Run starts the underlying cron scheduler loop in the background.
func (s *Scheduler) Run() {
	s.cron.Start()
}

// Shutdown stops the underlying cron loop, waiting for any in-flight job
// to finish.
func (s *Scheduler) Shutdown() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Status returns a snapshot of every registered task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[cron.EntryID]cron.Entry, len(s.cron.Entries()))
	for _, e := range s.cron.Entries() {
		entries[e.ID] = e
	}

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		st := TaskStatus{ID: t.id, Name: t.name, Cron: t.cronExpr, Active: t.active}
		if t.active {
			if e, ok := entries[t.entryID]; ok && !e.Next.IsZero() {
				next := e.Next
				st.NextFireTime = &next
			}
		}
		out = append(out, st)
	}
	return out
}
