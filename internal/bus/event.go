package bus

import "time"

// Event is a domain event published on the bus.
//
// Kinds are dot-separated namespaces: "rt." for transport events,
// "message." and "conversation." for store mutations, "session." for
// connection lifecycle notices.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
