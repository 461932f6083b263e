// Package websocket provides the WebSocket transport for the relay.
//
// The websocket package implements:
//   - HTTP upgrade to a relay connection (Server, an http.Handler)
//   - The message adapter used by the connection handler (Stream)
//   - Keepalive pings and pong-driven read deadlines
//   - Dial, for clients such as relayctl
//
// Message Protocol:
//
// One WebSocket text frame carries exactly one relay message, so no line
// framing is needed. The first frame must be the handshake:
//
//	{"id":"alice","space_id":"2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc"}
//
// after which frames are Move or Chat messages, and the server sends Spawn,
// Move, Chat and Despawn events.
//
// Usage:
//
//	ws := websocket.NewServer(h, logger, websocket.WithAllowedOrigins(origins))
//	router.Handle("/ws", ws)
//
// Connection Lifecycle:
//
// 1. Client upgrades the HTTP request
// 2. The handler reads the handshake and registers the session
// 3. Frames are routed to the session's space until either side closes
// 4. Disconnection releases the session and notifies the space
//
// Concurrency:
//
// Each connection runs on the goroutine net/http gave its request plus one
// ping goroutine. Writes from the router are serialized by the session, and
// pings use control frames, which gorilla/websocket allows concurrently.
package websocket
