package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/metrics"
)

/*
Process supervisor

Worker groups stand in for the fetcher and parser processes of a pod:
each group owns a fixed slot (a fetcher group's slot is its shard) and a
set of concurrent tasks. A group whose run returns an error is restarted
with a new sequential id; restart storms abort the crawl.
*/

const (
	// restartStormWindow / restartStormLimit: more than this many
	// restarts of one group inside the window aborts the run.
	restartStormWindow = 1 * time.Minute
	restartStormLimit  = 5

	// startupStagger spaces group launches.
	startupStagger = 250 * time.Millisecond
)

// groupRun starts one incarnation of a worker group and blocks until it
// exits. id is the group's current sequential id.
type groupRun func(ctx context.Context, id int) error

// supervisor restarts failed worker groups and escalates storms.
type supervisor struct {
	wg      sync.WaitGroup
	abort   context.CancelCauseFunc
	nextID  map[string]int
	idMu    sync.Mutex
}

func newSupervisor(abort context.CancelCauseFunc) *supervisor {
	return &supervisor{
		abort:  abort,
		nextID: make(map[string]int),
	}
}

// launch runs a group under supervision. role names the group kind
// ("fetcher"/"parser"), slot is its stable assignment.
func (s *supervisor) launch(ctx context.Context, role string, slot int, run groupRun) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var restarts []time.Time
		for {
			id := s.claimID(role)
			logger := log.WithFields(log.Fields{"role": role, "slot": slot, "id": id})
			logger.Info("worker group starting")

			err := runRecovered(ctx, id, run)
			if ctx.Err() != nil {
				return // Shutdown, not a failure
			}
			if err == nil {
				logger.Info("worker group exited cleanly")
				return
			}

			logger.WithError(err).Error("worker group died, restarting")
			metrics.WorkerRestarts.WithLabelValues(role).Inc()

			now := time.Now()
			restarts = append(restarts, now)
			recent := 0
			for _, t := range restarts {
				if now.Sub(t) < restartStormWindow {
					recent++
				}
			}
			if recent > restartStormLimit {
				s.abort(fmt.Errorf("%s group slot %d: %d restarts in %s", role, slot, recent, restartStormWindow))
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

// wait blocks until every supervised group has exited, or the grace
// period elapses.
func (s *supervisor) wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

func (s *supervisor) claimID(role string) int {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.nextID[role]
	s.nextID[role] = id + 1
	return id
}

// runRecovered converts a panicking group into an error so the
// supervisor can restart it instead of taking down the process.
func runRecovered(ctx context.Context, id int, run groupRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker group panic: %v", r)
		}
	}()
	return run(ctx, id)
}
