package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dealhound/config"
	"dealhound/models"
)

// Runner executes one ingestion pass for a source.
type Runner interface {
	RunSource(ctx context.Context, sourceID string, category *string) (*models.IngestStats, error)
	Pause()
	Resume()
	IsPaused() bool
}

// RunStore persists ingestion run records.
type RunStore interface {
	CreateIngestionRun(ctx context.Context, r *models.IngestionRun) error
	UpdateIngestionRun(ctx context.Context, r *models.IngestionRun) error
}

// CommandStore is the operational command queue the daemon polls.
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

// RunObserver receives run lifecycle events, typically for metrics.
type RunObserver interface {
	RunStarted()
	RunFinished(source string, status models.RunStatus, seconds float64)
}

// Scheduler owns the periodic per-source ingestion jobs plus the command
// queue poll loop.
type Scheduler struct {
	cfg      *config.Config
	runner   Runner
	runs     RunStore
	commands CommandStore
	observer RunObserver

	cron   *cron.Cron
	jobsMu sync.Mutex
	jobs   map[string]*sourceJob
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type sourceJob struct {
	sched   *Scheduler
	source  string
	running atomic.Bool
}

func New(cfg *config.Config, runner Runner, runs RunStore, commands CommandStore, observer RunObserver) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		runs:     runs,
		commands: commands,
		observer: observer,
		cron:     cron.New(),
		jobs:     make(map[string]*sourceJob),
		stopCh:   make(chan struct{}),
	}
}

// Start registers one staggered job per active source and begins polling the
// command queue. Sources are offset from each other so the daemon never
// hammers every storefront in the same second.
func (s *Scheduler) Start() {
	ids := make([]string, 0, len(s.cfg.Sources))
	for id := range s.cfg.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	idx := 0
	for _, id := range ids {
		src := s.cfg.Sources[id]
		if !src.Active {
			log.Printf("scheduler: %s is inactive, not scheduling", id)
			continue
		}

		job := s.jobFor(id)

		interval := src.RunInterval(s.cfg.Scheduler.DefaultInterval)
		delay := time.Duration(idx) * s.cfg.Scheduler.StaggerOffset
		s.cron.Schedule(&staggered{delay: delay, every: cron.Every(interval)}, job)
		log.Printf("scheduler: %s every %s (first run in %s)", id, interval, delay+interval)
		idx++
	}

	s.cron.Start()

	if s.commands != nil {
		s.wg.Add(1)
		go s.pollCommands()
	}
}

// Stop halts scheduling, waits for in-flight runs to drain and stops the
// command poller.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// TriggerSource runs one source immediately, outside its schedule. The run
// goes through the same per-source overlap guard as scheduled firings and is
// registered for graceful drain before the goroutine starts.
func (s *Scheduler) TriggerSource(source string, category *string) {
	job := s.jobFor(source)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.run(category)
	}()
}

// jobFor returns the job for a source, creating one on first use so manual
// triggers for unscheduled sources still share a single overlap guard.
func (s *Scheduler) jobFor(source string) *sourceJob {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[source]
	if !ok {
		job = &sourceJob{sched: s, source: source}
		s.jobs[source] = job
	}
	return job
}

// staggered delays the first firing of an Every schedule so per-source jobs
// spread out instead of all firing at daemon start.
type staggered struct {
	delay time.Duration
	every cron.ConstantDelaySchedule
	fired atomic.Bool
}

func (st *staggered) Next(t time.Time) time.Time {
	if st.fired.CompareAndSwap(false, true) {
		return t.Add(st.delay + st.every.Delay)
	}
	return st.every.Next(t)
}

// Run satisfies cron.Job. Cron tracks its own goroutines, so scheduled runs
// drain through cron.Stop rather than the scheduler's WaitGroup.
func (j *sourceJob) Run() {
	j.run(nil)
}

func (j *sourceJob) run(category *string) {
	if j.sched.runner.IsPaused() {
		log.Printf("scheduler: paused, skipping %s trigger", j.source)
		return
	}
	if !j.running.CompareAndSwap(false, true) {
		log.Printf("scheduler: %s still running, skipping trigger", j.source)
		return
	}
	defer j.running.Store(false)

	j.sched.execute(j.source, category)
}

// execute wraps one ingestion pass in a persisted run record. A panic inside
// the pipeline fails the run row instead of killing the daemon.
func (s *Scheduler) execute(source string, category *string) {
	ctx := context.Background()
	start := time.Now()

	run := &models.IngestionRun{
		Source:    source,
		Status:    models.RunStatusRunning,
		StartedAt: start,
	}
	if err := s.runs.CreateIngestionRun(ctx, run); err != nil {
		log.Printf("scheduler: %s: creating run record failed: %v", source, err)
	}
	if s.observer != nil {
		s.observer.RunStarted()
	}

	var stats *models.IngestStats
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
				log.Printf("scheduler: %s: run panicked: %v", source, r)
			}
		}()
		stats, runErr = s.runner.RunSource(ctx, source, category)
	}()

	now := time.Now()
	run.FinishedAt = &now
	run.ApplyStats(stats)
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	} else {
		run.Status = models.RunStatusCompleted
	}

	if run.ID != 0 {
		if err := s.runs.UpdateIngestionRun(ctx, run); err != nil {
			log.Printf("scheduler: %s: finalizing run record failed: %v", source, err)
		}
	}
	if s.observer != nil {
		s.observer.RunFinished(source, run.Status, now.Sub(start).Seconds())
	}
}

// pollCommands applies queued operational commands every two seconds.
func (s *Scheduler) pollCommands() {
	defer s.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainCommands()
		}
	}
}

func (s *Scheduler) drainCommands() {
	cmds, err := s.commands.GetPendingCommands()
	if err != nil {
		log.Printf("scheduler: reading command queue failed: %v", err)
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		s.applyCommand(cmd)
		if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("scheduler: marking command %d processed failed: %v", cmd.ID, err)
		}
	}
}

func (s *Scheduler) applyCommand(cmd *models.Command) {
	params := &models.CommandParams{}
	if s.commands != nil {
		var err error
		params, err = s.commands.ParseCommandParams(cmd)
		if err != nil {
			log.Printf("scheduler: command %d has bad params: %v", cmd.ID, err)
			return
		}
	}

	switch cmd.Command {
	case models.CmdRunNow:
		log.Printf("scheduler: command run_now")
		s.jobsMu.Lock()
		sources := make([]string, 0, len(s.jobs))
		for source := range s.jobs {
			sources = append(sources, source)
		}
		s.jobsMu.Unlock()
		for _, source := range sources {
			s.TriggerSource(source, nil)
		}
	case models.CmdRunSource:
		log.Printf("scheduler: command run_source %s", params.Source)
		var category *string
		if params.Category != "" {
			category = &params.Category
		}
		s.TriggerSource(params.Source, category)
	case models.CmdPause:
		log.Printf("scheduler: command pause")
		s.runner.Pause()
	case models.CmdResume:
		log.Printf("scheduler: command resume")
		s.runner.Resume()
	default:
		log.Printf("scheduler: unknown command %q", cmd.Command)
	}
}
