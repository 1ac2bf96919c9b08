// Package mqtt provides the bridge's MQTT session.
//
// This package manages:
//   - A mutually authenticated TLS session with the cloud broker
//   - A connection state machine driven by explicit Yield calls
//   - Auto-reconnect with capped exponential backoff, or one manual
//     reconnect per lost connection when auto-reconnect is disabled
//   - Subscriptions whose handlers run on the caller's goroutine
//   - Last Will and Testament plus retained online/offline status
//
// # Cooperative Model
//
// The bridge is a single loop. paho keeps its own network goroutines, but
// nothing they observe becomes visible until the loop calls Yield:
//
//	for {
//	    switch session.Yield(100 * time.Millisecond) {
//	    case mqtt.ReconnectAttempting:
//	        continue // skip work this tick
//	    case mqtt.Fatal, mqtt.Disconnected:
//	        return session.Err()
//	    }
//	    session.Publish(topic, body, 0)
//	}
//
// # Failure Classification
//
//   - Connect and Subscribe failures return *SessionError and are fatal.
//   - Publish failures are returned as plain wrapped errors; the caller reads
//     State to decide whether the session is still alive.
//   - Exhausting reconnect.max_attempts moves the session to Fatal.
//
// SessionError.ExitCode maps each terminal failure to a process exit status.
//
// # Security Considerations
//
//   - TLS 1.2 minimum with broker host name verification
//   - The private key is read once at connect and never logged
package mqtt
