// Package canbus connects the bridge to a CAN gateway daemon speaking
// the serial-line (slcan) text framing over TCP or a Unix socket.
//
// Each physical bus interface gets its own Client. The client exposes
// a cancellable blocking Receive for the ingestion pipeline and a Send
// for outbound command frames. Connection loss triggers automatic
// reconnection with exponential backoff; frames received while the
// inbound queue is full are dropped and counted rather than blocking
// the socket reader.
package canbus
