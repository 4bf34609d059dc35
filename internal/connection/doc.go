// Package connection implements the streaming ingestion channel.
//
// A Client wraps one websocket connection to the upstream price feed. A
// Stream owns the Client lifecycle:
//   - Connects, then re-subscribes every registry symbol
//   - Sends {"action":"heartbeat"} on an interval and expects inbound
//     traffic within the heartbeat deadline
//   - Reconnects with a bounded increasing delay; a successful connect
//     resets the attempt counter
//   - Enters Failed after too many attempts until Restart is called
//   - Parses price events defensively and hands QuoteSnapshots to a handler
package connection
