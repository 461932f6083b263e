// Package protocol implements the wire codec for the space relay.
//
// Every logical message is a single JSON object. Framing (newline delimiting
// on TCP, one frame per message on WebSocket) is the transport's job; the
// codec always receives exactly one complete message.
//
// Handshake (client to server, first message only):
//
//	{"id": "alice", "space_id": "11111111-1111-1111-1111-111111111111"}
//
// Client messages after the handshake, tagged by "type":
//
//	{"type":"Move","x":1.5,"y":-2}
//	{"type":"Chat","message":"hi"}
//
// Server events, tagged by "type":
//
//	{"type":"Spawn","id":"alice","model_url":"https://..."}
//	{"type":"Move","id":"alice","x":1.5,"y":-2}
//	{"type":"Chat","id":"alice","message":"hi"}
//	{"type":"Despawn","id":"alice"}
//
// Both directions are closed variant sets. Adding a message kind means adding
// a type that implements ClientMessage or ServerEvent and a case in Decode or
// Encode.
package protocol
