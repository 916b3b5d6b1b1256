package tokeninfra

import (
	"context"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/token/tokensrv"
)

// CleanupService periodically sweeps expired opaque tokens. Cross-process
// exclusion (only one instance sweeping at a time) is the scheduler's
// responsibility, not this service's.
type CleanupService struct {
	issuer *tokensrv.Issuer
	cfg    *config.TokenConfig
}

// NewCleanupService creates the sweep service.
func NewCleanupService(issuer *tokensrv.Issuer, cfg *config.TokenConfig) *CleanupService {
	return &CleanupService{issuer: issuer, cfg: cfg}
}

// Start runs the sweep on the configured interval until ctx ends.
func (s *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *CleanupService) runOnce(ctx context.Context) {
	deleted, err := s.issuer.SweepExpired(ctx, s.cfg.SweepMaxDelete, s.cfg.SweepBatchSize, s.cfg.SweepBatchPause)
	if err != nil {
		logx.WithError(err).WithField("deleted", deleted).Error("token sweep failed")
		return
	}
	logx.WithField("deleted", deleted).Debug("token sweep completed")
}
