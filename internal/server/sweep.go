package server

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/obslog"
)

// SweepTimeouts ends matches whose side to move ran out of time.
func (s *Server) SweepTimeouts() {
	s.hub.Lock()
	defer s.hub.Unlock()
	if n := s.dispatcher.Sweep(s.ctx); n > 0 {
		obslog.L().Info("timeout_sweep", zap.Int("ended", n))
	}
}

// SweepCleanup expires sessions and challenges and evicts old matches.
func (s *Server) SweepCleanup() {
	s.hub.Lock()
	defer s.hub.Unlock()
	s.dispatcher.Cleanup(s.ctx)
}

func (s *Server) startSweeps() error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	jobs := []struct {
		name string
		task func()
		def  gocron.JobDefinition
	}{
		{"timeout_sweep", s.SweepTimeouts, gocron.DurationJob(s.cfg.TimeoutSweep)},
		{"cleanup_sweep", s.SweepCleanup, gocron.DurationJob(s.cfg.CleanupSweep)},
	}
	for _, j := range jobs {
		if _, err := sched.NewJob(j.def, gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	sched.Start()
	s.sched = sched
	return nil
}
