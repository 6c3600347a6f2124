// Package scheduler runs the recurring jobs of enabled modules, once per job
// per guild.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/priyxstudio/kiwi/modules"
)

// ErrNotActive is returned when a job is not active for a guild.
const ErrNotActive = errors.Sentinel("scheduler: job is not active")

type key struct {
	module string
	job    string
	guild  string
}

// Scheduler activates module jobs per guild on top of a gocron scheduler. A job
// never runs concurrently with itself for the same guild.
type Scheduler struct {
	rt       modules.Runtime
	cron     gocron.Scheduler
	location *time.Location
	timeout  time.Duration
	metrics  *Metrics

	mu     sync.Mutex
	active map[key]uuid.UUID
}

var _ modules.JobScheduler = (*Scheduler)(nil)

// Option configures a Scheduler.
type Option func(s *Scheduler)

// WithLocation sets the time zone cron expressions are evaluated in. UTC is
// used by default.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records job runs in the given collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a stopped scheduler. Call Start to begin firing jobs.
func New(rt modules.Runtime, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		rt:       rt,
		location: time.UTC,
		timeout:  5 * time.Minute,
		active:   make(map[key]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(s.location))
	if err != nil {
		return nil, errors.Wrap(err, "scheduler: failed to create cron scheduler")
	}
	s.cron = cron
	return s, nil
}

// Activate schedules a module job for a guild. It returns false without error
// when the job is already active for that guild.
func (s *Scheduler) Activate(m *modules.Module, j *modules.ScheduledJob, guildID string) (bool, error) {
	k := key{module: m.ID, job: j.ID, guild: guildID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[k]; ok {
		return false, nil
	}

	job, err := s.cron.NewJob(
		gocron.CronJob(j.Spec, false),
		gocron.NewTask(s.run, m, j, guildID),
		gocron.WithName(fmt.Sprintf("%s/%s/%s", m.ID, j.ID, guildID)),
		gocron.WithTags(m.ID, j.ID, guildID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return false, errors.WithDetails(errors.Wrap(err, "scheduler: failed to create job"), "module", m.ID, "job", j.ID, "spec", j.Spec)
	}
	s.active[k] = job.ID()

	log.WithFields(log.Fields{"module": m.ID, "job": j.ID, "guild_id": guildID, "spec": j.Spec}).
		Debug("activated scheduled job")
	return true, nil
}

// Deactivate removes every job of a module for a guild and returns how many
// were removed. Runs already in progress are left to finish.
func (s *Scheduler) Deactivate(moduleID, guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, id := range s.active {
		if k.module != moduleID || k.guild != guildID {
			continue
		}
		if err := s.cron.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.WithFields(log.Fields{"module": moduleID, "job": k.job, "guild_id": guildID}).
				WithError(err).Warn("failed to remove scheduled job")
		}
		delete(s.active, k)
		n++
	}
	if n > 0 {
		log.WithFields(log.Fields{"module": moduleID, "guild_id": guildID, "jobs": n}).Debug("deactivated scheduled jobs")
	}
	return n
}

// Active returns the identifiers of the module's jobs active for a guild.
func (s *Scheduler) Active(moduleID, guildID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.active {
		if k.module == moduleID && k.guild == guildID {
			out = append(out, k.job)
		}
	}
	slices.Sort(out)
	return out
}

// JobInfo describes an active job.
type JobInfo struct {
	Module  string    `json:"module"`
	Job     string    `json:"job"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// Jobs returns every job active for a guild ordered by module and job.
func (s *Scheduler) Jobs(guildID string) []JobInfo {
	s.mu.Lock()
	ids := make(map[uuid.UUID]key)
	for k, id := range s.active {
		if k.guild == guildID {
			ids[id] = k
		}
	}
	s.mu.Unlock()

	var out []JobInfo
	for _, job := range s.cron.Jobs() {
		k, ok := ids[job.ID()]
		if !ok {
			continue
		}
		info := JobInfo{Module: k.module, Job: k.job}
		info.NextRun, _ = job.NextRun()
		info.LastRun, _ = job.LastRun()
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b JobInfo) int {
		return cmp.Or(cmp.Compare(a.Module, b.Module), cmp.Compare(a.Job, b.Job))
	})
	return out
}

// RunNow fires an active job immediately, outside of its schedule.
func (s *Scheduler) RunNow(moduleID, jobID, guildID string) error {
	s.mu.Lock()
	id, ok := s.active[key{module: moduleID, job: jobID, guild: guildID}]
	s.mu.Unlock()
	if !ok {
		return errors.WithDetails(ErrNotActive, "module", moduleID, "job", jobID, "guild_id", guildID)
	}

	for _, job := range s.cron.Jobs() {
		if job.ID() == id {
			return errors.WithStack(job.RunNow())
		}
	}
	return errors.WithDetails(ErrNotActive, "module", moduleID, "job", jobID, "guild_id", guildID)
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.WithField("location", s.location.String()).Info("scheduler started")
}

// Shutdown stops firing jobs and waits for running ones to return.
func (s *Scheduler) Shutdown() error {
	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "scheduler: failed to shut down")
	}
	return nil
}

func (s *Scheduler) run(m *modules.Module, j *modules.ScheduledJob, guildID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := log.WithFields(log.Fields{"module": m.ID, "job": j.ID, "guild_id": guildID})
	started := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic: %v", r)
			}
		}()
		return j.Execute(ctx, s.rt, guildID)
	}()

	s.metrics.observe(m.ID, j.ID, started, err)
	if err != nil {
		logger.WithError(err).Error("scheduled job failed")
		return
	}
	logger.WithField("duration", time.Since(started).String()).Debug("scheduled job finished")
}
