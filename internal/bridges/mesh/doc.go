// Package mesh bridges an RF24 sensor mesh to the MQTT session.
//
// This package provides:
//   - Frame header and sensor payload codecs
//   - The Network transport interface, an in-memory implementation and a
//     client for a radio gateway daemon reached over a Unix or TCP socket
//   - AddressTable, the master node's address allocator
//   - Ingest, which keeps the mesh maintained and decodes sensor frames
//   - The telemetry translator (Topic, Body, Translate)
//   - Loop, the single cooperative bridge loop
//   - NodeRecorder, a SQLite record of every node heard from
//
// # Architecture
//
//	┌─────────────┐  socket   ┌─────────────────┐  Yield/Publish  ┌────────────┐
//	│ rf24 gateway│ ◄───────► │ GatewayClient   │                 │ mqtt       │
//	│ (radio)     │           │  → Ingest       │ ──── Loop ────► │ Session    │
//	└─────────────┘           └─────────────────┘                 └────────────┘
//
// # Loop Semantics
//
// Every tick runs mesh maintenance first. Each queued frame is then
// preceded by one Yield to the session: a session that is reconnecting
// leaves the frame queued for a later tick, and a dead session stops the
// loop. A decoded frame is published once and never retried. Unknown or
// malformed frames are consumed, logged and do not touch the budget.
//
// # Wire Format
//
// Gateway socket frames:
//
//	Byte 0-1:  Length of header plus payload (little-endian)
//	Byte 2-9:  Header (from, to, id, type, reserved)
//	Byte 10-:  Payload
//
// Sensor payload: temperature uint64 then node id uint64, little-endian.
package mesh
