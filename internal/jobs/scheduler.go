// Package jobs runs periodic housekeeping for the login tables and the
// session store.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"muistot/api/internal/database"
	"muistot/api/internal/repository"
	"muistot/api/internal/sessions"
)

const (
	verifierSpec = "0 0 * * * *"  // hourly
	sessionSpec  = "0 30 3 * * *" // nightly
)

type Scheduler struct {
	cron        *cron.Cron
	db          database.Transactor
	sessions    *sessions.Store
	verifierTTL time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewScheduler purges login verifiers older than verifierTTL and stale
// members of the session indexes.
func NewScheduler(db database.Transactor, store *sessions.Store, verifierTTL time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		db:          db,
		sessions:    store,
		verifierTTL: verifierTTL,
		log:         log.With().Str("component", "jobs").Logger(),
		now:         time.Now,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(verifierSpec, s.run("purge verifiers", s.PurgeVerifiers)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(sessionSpec, s.run("purge sessions", s.PurgeSessions)); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("jobs still running at shutdown")
	}
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := job(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
		}
	}
}

func (s *Scheduler) PurgeVerifiers(ctx context.Context) error {
	var purged int64
	err := s.db.Tx(ctx, func(db database.DB) (err error) {
		purged, err = repository.NewUsers(db).PurgeVerifiers(ctx, s.now().Add(-s.verifierTTL))
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info().Int64("purged", purged).Msg("expired login verifiers removed")
	return nil
}

func (s *Scheduler) PurgeSessions(ctx context.Context) error {
	swept, err := s.sessions.PurgeAllStale(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int("users", swept).Msg("session indexes swept")
	return nil
}
