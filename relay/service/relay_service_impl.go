package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/relay/router"
	"github.com/wricardo/spacerelay/relay/session"
)

// ErrEmptyMessage is returned when an announcement has no text.
var ErrEmptyMessage = errors.New("announcement message is empty")

// relayServiceImpl implements the RelayService interface
type relayServiceImpl struct {
	registry  *session.Registry
	catalog   Catalog
	announcer Announcer
	startedAt time.Time
	now       func() time.Time
}

// NewRelayService creates a new relay service instance
func NewRelayService(registry *session.Registry, catalog Catalog, announcer Announcer) RelayService {
	return &relayServiceImpl{
		registry:  registry,
		catalog:   catalog,
		announcer: announcer,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// ListSpaces returns every configured space plus every occupied one,
// ordered by space ID
func (s *relayServiceImpl) ListSpaces(ctx context.Context) ([]*SpaceInfo, error) {
	byID := make(map[string]*SpaceInfo)

	for _, cfg := range s.catalog.List() {
		byID[cfg.SpaceID] = &SpaceInfo{
			SpaceID:     cfg.SpaceID,
			Name:        cfg.Name,
			Description: cfg.Description,
			ModelURL:    cfg.ModelURL,
			Configured:  true,
		}
	}

	for _, summary := range s.registry.Spaces() {
		id := summary.SpaceID.String()
		info, ok := byID[id]
		if !ok {
			info = &SpaceInfo{SpaceID: id}
			byID[id] = info
		}
		info.Sessions = summary.Sessions
	}

	result := make([]*SpaceInfo, 0, len(byID))
	for _, info := range byID {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SpaceID < result[j].SpaceID })
	return result, nil
}

// ReloadSpaces re-reads the catalog from disk
func (s *relayServiceImpl) ReloadSpaces(ctx context.Context) error {
	if err := s.catalog.Refresh(); err != nil {
		return fmt.Errorf("failed to reload spaces: %w", err)
	}
	return nil
}

// ListSessions returns the sessions of one space ordered by connect time
func (s *relayServiceImpl) ListSessions(ctx context.Context, spaceID string) ([]*SessionInfo, error) {
	space, err := protocol.ParseSpaceID(spaceID)
	if err != nil {
		return nil, err
	}

	members := s.registry.SnapshotForSpace(space)
	result := make([]*SessionInfo, 0, len(members))
	for _, sess := range members {
		result = append(result, sessionInfo(sess))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].Identity < result[j].Identity
		}
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result, nil
}

// GetSession retrieves one live session by identity
func (s *relayServiceImpl) GetSession(ctx context.Context, identity string) (*SessionInfo, error) {
	sess, err := s.registry.Get(identity)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", identity, err)
	}
	return sessionInfo(sess), nil
}

// Stats returns relay-wide counters
func (s *relayServiceImpl) Stats(ctx context.Context) (*Stats, error) {
	return &Stats{
		ActiveSessions: s.registry.Count(),
		ActiveSpaces:   len(s.registry.Spaces()),
		CatalogSpaces:  len(s.catalog.List()),
		StartedAt:      s.startedAt,
		Uptime:         s.now().Sub(s.startedAt).Truncate(time.Second).String(),
	}, nil
}

// Announce broadcasts a server chat message to every session in a space
func (s *relayServiceImpl) Announce(ctx context.Context, spaceID, message string) (*AnnounceResult, error) {
	space, err := protocol.ParseSpaceID(spaceID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	report := s.announcer.Route(ctx, router.Chat{Identity: protocol.ServerIdentity, Message: message}, space)

	result := &AnnounceResult{
		SpaceID:    space.String(),
		Recipients: report.Recipients,
		Delivered:  report.Delivered,
	}
	for _, f := range report.Failures {
		result.Failed = append(result.Failed, f.Identity)
	}
	return result, nil
}

func sessionInfo(sess *session.Session) *SessionInfo {
	sent, failed := sess.Stats()
	return &SessionInfo{
		Identity:    sess.Identity,
		SpaceID:     sess.SpaceID.String(),
		RemoteAddr:  sess.RemoteAddr,
		ConnectedAt: sess.ConnectedAt,
		Sent:        sent,
		Failed:      failed,
	}
}
