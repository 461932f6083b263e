// Package tcp provides the newline-delimited TCP transport for the relay.
//
// Each message is one UTF-8 JSON document terminated by '\n'. A trailing
// '\r' is tolerated and blank lines are skipped. A line longer than the
// configured maximum is a fatal read error for that connection.
//
// The package implements:
//   - An accept loop that hands every connection to a ConnHandler
//   - The line framer used by both the server and client sides (Conn)
//   - Dial, for clients such as relayctl
//
// Usage:
//
//	srv := tcp.NewServer(h, logger, tcp.WithMaxMessageSize(64<<10))
//	if err := srv.ListenAndServe(ctx, "127.0.0.1:4000"); err != nil {
//		log.Fatal(err)
//	}
//
// Shutdown:
//
// Cancelling the context passed to Serve closes the listener. Open
// connections are closed by their handler, and Serve returns once every
// handler has finished.
package tcp
