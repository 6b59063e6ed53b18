package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Field-level length
	// ceilings live in the board service, which both surfaces go through.
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Presence entries expire after this inactivity window.
	presenceExpiry = 60 * time.Second

	// Typing markers auto-clear after this window; no stop event required.
	typingExpiry = 6 * time.Second

	// Sweep cadence for expired presence/typing entries.
	janitorInterval = 2 * time.Second
)
