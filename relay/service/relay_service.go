package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/wricardo/spacerelay/relay/config"
	"github.com/wricardo/spacerelay/relay/router"
)

// RelayService defines all administrative relay operations
type RelayService interface {
	// Spaces
	ListSpaces(ctx context.Context) ([]*SpaceInfo, error)
	ReloadSpaces(ctx context.Context) error

	// Sessions
	ListSessions(ctx context.Context, spaceID string) ([]*SessionInfo, error)
	GetSession(ctx context.Context, identity string) (*SessionInfo, error)

	// Relay
	Stats(ctx context.Context) (*Stats, error)
	Announce(ctx context.Context, spaceID, message string) (*AnnounceResult, error)
}

// Catalog is the read side of the space catalog
type Catalog interface {
	List() []*config.SpaceConfig
	Get(space uuid.UUID) (*config.SpaceConfig, error)
	Refresh() error
}

// Announcer routes server-originated events
type Announcer interface {
	Route(ctx context.Context, ev router.Event, space uuid.UUID) router.DeliveryReport
}
