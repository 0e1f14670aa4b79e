/**
 * @description
 * This file implements the scheduled reconciliation sweep: a cron job that
 * periodically reconciles the ledgers of recently active vaults so their
 * optimistic entries are retired even when no client pulls history.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: cron scheduling.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepWindow is how long a vault stays in the sweep set after its last
// confirmed relay.
const sweepWindow = 24 * time.Hour

// Sweeper periodically reconciles recently active vault ledgers.
type Sweeper struct {
	service    *Service
	reconciler *Reconciler
	cron       *cron.Cron
}

// NewSweeper creates a sweeper; Start schedules it.
func NewSweeper(service *Service, reconciler *Reconciler) *Sweeper {
	return &Sweeper{
		service:    service,
		reconciler: reconciler,
		cron:       cron.New(),
	}
}

// Start registers the sweep on the given cron spec (e.g. "@every 10m") and
// begins scheduling. Returns an error only for an invalid spec.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"reconciliation sweep scheduled\" spec=%q", spec)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	refs := s.service.recentVaults(sweepWindow)
	if len(refs) == 0 {
		return
	}

	for _, ref := range refs {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := s.reconciler.Reconcile(ctx, ref.Vault, ref.ChainID)
		cancel()
		if err != nil {
			log.Printf("level=warn component=sweeper msg=\"sweep reconcile failed\" vault=%s chain_id=%d err=%v", ref.Vault, ref.ChainID, err)
			continue
		}
	}
	log.Printf("level=info component=sweeper msg=\"sweep complete\" vaults=%d", len(refs))
}
