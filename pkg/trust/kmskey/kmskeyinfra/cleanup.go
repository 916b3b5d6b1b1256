package kmskeyinfra

import (
	"context"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey/kmskeysrv"
)

// CleanupService periodically retires inactive and orphaned CMKs.
// Cross-process exclusion is the scheduler's responsibility.
type CleanupService struct {
	manager *kmskeysrv.Manager
	cfg     *config.KMSConfig
}

// NewCleanupService creates the sweep service.
func NewCleanupService(manager *kmskeysrv.Manager, cfg *config.KMSConfig) *CleanupService {
	return &CleanupService{manager: manager, cfg: cfg}
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
	inactiveAfter := time.Duration(s.cfg.SweepInactiveDays) * 24 * time.Hour
	swept, err := s.manager.SweepInactiveOrOrphaned(ctx, inactiveAfter)
	if err != nil {
		logx.WithError(err).WithField("swept", swept).Error("key sweep failed")
		return
	}
	logx.WithField("swept", swept).Debug("key sweep completed")
}
