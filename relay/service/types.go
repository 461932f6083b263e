package service

import "time"

// SpaceInfo describes a space known to the catalog, occupied, or both
type SpaceInfo struct {
	SpaceID     string `json:"space_id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ModelURL    string `json:"model_url,omitempty"`
	Sessions    int    `json:"sessions"`
	Configured  bool   `json:"configured"` // a catalog definition exists
}

// SessionInfo provides information about a live session
type SessionInfo struct {
	Identity    string    `json:"id"`
	SpaceID     string    `json:"space_id"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        uint64    `json:"sent"`
	Failed      uint64    `json:"failed"`
}

// Stats summarizes the relay
type Stats struct {
	ActiveSessions int       `json:"active_sessions"`
	ActiveSpaces   int       `json:"active_spaces"`
	CatalogSpaces  int       `json:"catalog_spaces"`
	StartedAt      time.Time `json:"started_at"`
	Uptime         string    `json:"uptime"`
}

// AnnounceResult reports the outcome of a server announcement
type AnnounceResult struct {
	SpaceID    string   `json:"space_id"`
	Recipients int      `json:"recipients"`
	Delivered  int      `json:"delivered"`
	Failed     []string `json:"failed,omitempty"` // identities whose write failed
}
