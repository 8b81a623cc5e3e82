package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/repository"
)

// RetentionJob prunes append-only history tables past the retention
// window. The repositories keep the rows trigger policies read forever
// (the latest firing per group, the last two inbound messages per
// contact), so once-per-user and first-message checks hold for dormant
// contacts too. Flow sessions are left alone: their expiry is evaluated
// lazily when the next occurrence arrives, so a reaper here would
// silently eat timeout branches.
type RetentionJob struct {
	history   repository.TriggerHistoryRepository
	inbound   repository.InboundLogRepository
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewRetentionJob(
	history repository.TriggerHistoryRepository,
	inbound repository.InboundLogRepository,
	retention time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		history:   history,
		inbound:   inbound,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)

	j.runPrune(ctx, "trigger history", cutoff, j.history.Prune)
	j.runPrune(ctx, "inbound log", cutoff, j.inbound.Prune)
}

func (j *RetentionJob) runPrune(ctx context.Context, name string, cutoff time.Time, fn func(context.Context, time.Time) (int64, error)) {
	count, err := fn(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msgf("failed to prune %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("pruned %s", name)
	}
}
