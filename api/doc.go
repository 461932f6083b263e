// Package api provides the admin HTTP API for the relay.
//
// The api package implements:
//   - Space listing and per-space session listing
//   - Session lookup by identity
//   - Relay statistics and health
//   - Server announcements into a space
//   - Mounting of the WebSocket relay endpoint and Prometheus metrics
//
// Endpoints:
//
//   - GET /api/health - Liveness check
//   - GET /api/stats - Relay-wide counters
//   - GET /api/spaces - Configured and occupied spaces
//   - POST /api/spaces/reload - Reload the space catalog from disk
//   - GET /api/spaces/{space_id}/sessions - Sessions in one space
//   - POST /api/spaces/{space_id}/announce - Broadcast a server chat message
//   - GET /api/sessions/{id} - One session by identity
//   - GET /ws - WebSocket relay connection (when mounted)
//   - GET /metrics - Prometheus metrics (when mounted)
//
// Announcements are sent as POST with JSON body:
//
//	{"message": "maintenance in 5 minutes"}
//
// and are delivered to every session in the space as a Chat event from the
// reserved identity "server".
//
// Usage:
//
//	srv := api.NewServer(relayService,
//		api.WithWebSocket(ws),
//		api.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
//		api.WithCORS([]string{"https://app.example.com"}),
//	)
//	http.ListenAndServe(":8080", srv.Handler())
//
// Error Handling:
//
// Errors are returned as JSON with an appropriate HTTP status code:
//
//	{"error": "invalid space_id: ..."}
//
// Malformed space IDs and empty announcements are 400, unknown sessions are
// 404.
package api
