// Package maintenance runs cron-scheduled housekeeping. The one job today
// is the orphan session sweep: session directories whose job is gone (the
// daemon was restarted, jobs are not recovered) would otherwise pile up
// under the session root forever.
package maintenance

import (
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// SessionOwner reports which session directories belong to live jobs.
type SessionOwner interface {
	SessionsInUse() map[string]bool
}

// Sweeper deletes orphaned session directories on a cron schedule.
type Sweeper struct {
	root   string
	owner  SessionOwner
	cron   *cron.Cron
	logger arbor.ILogger
}

// NewSweeper creates a stopped sweeper for the given session root.
func NewSweeper(root string, owner SessionOwner, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		root:   root,
		owner:  owner,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the sweep. The spec is a cron expression or a descriptor
// like "@hourly".
func (s *Sweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", spec).Str("root", s.root).Msg("Session sweeper started")
	return nil
}

// Stop halts the schedule; a sweep in flight finishes.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Session sweeper stopped")
}

// Sweep removes every directory under the session root that no live job
// owns.
func (s *Sweeper) Sweep() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Debug().Str("root", s.root).Err(err).Msg("Session root not readable, sweep skipped")
		return
	}

	inUse := s.owner.SessionsInUse()
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		if inUse[dir] {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Str("dir", dir).Err(err).Msg("Failed to remove orphaned session")
			continue
		}
		s.logger.Info().Str("dir", dir).Msg("Orphaned session removed")
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Session sweep done")
	}
}
