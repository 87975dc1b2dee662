// Package realtime pushes dashboard events to connected browsers over
// WebSocket.
//
// The Hub owns the live connection set. Broadcast serializes a payload once
// and enqueues it on every connection whose state is StateOpen; connections
// in any other state are skipped and leave the set through their own close
// path. Delivery is fire-and-forget: each connection has a bounded send
// queue drained by its write pump, and a full queue drops the message for
// that client only.
//
// The protocol is server-push only. Inbound client frames are logged and
// otherwise ignored.
//
// In test mode the server uses NewNoop, whose Broadcast does nothing and whose
// handler refuses upgrades.
package realtime
