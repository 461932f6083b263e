// Package service provides the administrative layer of the relay.
//
// The service package implements:
//   - Listing spaces, merging the catalog with live occupancy
//   - Inspecting the sessions of a space or a single session
//   - Relay-wide statistics
//   - Server announcements broadcast into a space
//   - Reloading the space catalog from disk
//
// Core Interfaces:
//
// RelayService is the interface consumed by the HTTP API and the MCP
// server. Catalog and Announcer describe what the service needs from the
// space catalog and the broadcast router.
//
// Architecture:
//
// The service layer sits between the admin transports (HTTP, MCP) and the
// live relay state. It never registers or removes sessions; that belongs to
// the connection handler. Announcements go through the same router as
// client traffic and use the reserved "server" identity, so no client can
// be mistaken for their author.
//
// Usage:
//
//	registry := session.NewRegistry()
//	catalog, _ := config.NewManager("spaces")
//	rt := router.New(registry, catalog, m, logger)
//	relay := service.NewRelayService(registry, catalog, rt)
//
//	spaces, err := relay.ListSpaces(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := relay.Announce(ctx, spaceID, "maintenance in 5 minutes")
package service
