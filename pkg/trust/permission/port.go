package permission

import (
	"context"

	"github.com/strongroom-io/strongroom/pkg/kernel"
)

// GrantRepository reads permission grants from the box administration
// store. The trust core never writes grants.
type GrantRepository interface {
	// FindByRefs returns every grant whose principal reference matches
	// one of refs. With foldCase set the match is case-insensitive.
	FindByRefs(ctx context.Context, refs []string, foldCase bool) ([]Grant, error)

	// FindByBox returns every grant recorded on one box.
	FindByBox(ctx context.Context, boxID kernel.BoxID) ([]Grant, error)
}
