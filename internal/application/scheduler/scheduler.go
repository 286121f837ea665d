// Package scheduler dispatches deferred batches when their due time
// arrives. Durability lives in the Batch row; the loop only polls for due
// pending batches and claims each one through the orchestrator's
// pending -> processing compare-and-swap, so a batch runs at most once no
// matter how many dispatch triggers fire.
package scheduler

import (
	"context"
	"time"

	"stratix-backend/internal/application/batches"
	"stratix-backend/internal/application/invitations"
	"stratix-backend/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Scheduler struct {
	DB          *gorm.DB
	Batches     *batches.Service
	Invitations *invitations.Service
	Interval    time.Duration

	stop chan struct{}
}

var now = time.Now

// Start runs the dispatch/sweep loop until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	s.stop = make(chan struct{})
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.DispatchDue(ctx)
			if swept, err := s.Invitations.SweepExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("expiry sweep failed")
			} else if swept > 0 {
				log.Info().Int("swept", swept).Msg("expired invitations materialized")
			}
		}
	}
}

// DispatchDue finds due pending batches and processes each one it manages
// to claim. Claim losers (a concurrent dispatcher, a cancellation) are
// no-ops.
func (s *Scheduler) DispatchDue(ctx context.Context) int {
	var due []domain.Batch
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?",
			domain.BatchStatusPending, now()).
		Order("scheduled_for ASC").Limit(50).Find(&due).Error; err != nil {
		log.Error().Err(err).Msg("due batch query failed")
		return 0
	}

	dispatched := 0
	for i := range due {
		if !s.Batches.Claim(ctx, due[i].BatchID) {
			continue
		}
		if _, err := s.Batches.Process(ctx, due[i].BatchID); err != nil {
			log.Error().Err(err).Str("batch_id", due[i].BatchID.String()).Msg("scheduled batch processing failed")
			continue
		}
		dispatched++
		log.Info().Str("batch_id", due[i].BatchID.String()).Msg("scheduled batch dispatched")
	}
	return dispatched
}
