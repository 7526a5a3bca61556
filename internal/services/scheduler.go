package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mescon/Seedrarr/internal/logger"
)

// pollTimeout bounds one full status sweep across the ledger.
const pollTimeout = 10 * time.Minute

// SchedulerService drives the periodic status sweep: on each tick every
// ledger entry is reconciled and newly completed downloads run the
// completion pipeline.
type SchedulerService struct {
	downloads *DownloadService
	cron      *cron.Cron
	schedule  string
	entryID   cron.EntryID
	mu        sync.Mutex
	started   bool
}

// NewSchedulerService creates a scheduler sweeping on the given cron
// schedule (standard five-field syntax).
func NewSchedulerService(downloads *DownloadService, schedule string) (*SchedulerService, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %v", schedule, err)
	}
	return &SchedulerService{
		downloads: downloads,
		cron:      cron.New(),
		schedule:  schedule,
	}, nil
}

// Start begins the periodic sweep.
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	logger.Infof("Starting Scheduler Service (poll schedule: %s)...", s.schedule)
	entryID, err := s.cron.AddFunc(s.schedule, s.runPoll)
	if err != nil {
		return fmt.Errorf("failed to schedule poll sweep: %v", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the scheduler. Running sweeps finish; no new ones start.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	logger.Infof("Scheduler Service stopped")
}

// PollNow runs one sweep immediately, outside the cron schedule.
func (s *SchedulerService) PollNow(ctx context.Context) error {
	_, err := s.downloads.PollAll(ctx)
	return err
}

func (s *SchedulerService) runPoll() {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	overviews, err := s.downloads.PollAll(ctx)
	if err != nil {
		logger.Errorf("Scheduled poll sweep failed: %v", err)
		return
	}
	logger.Debugf("Poll sweep checked %d downloads", len(overviews))
}
