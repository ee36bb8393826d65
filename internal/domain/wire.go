package domain

// DoneSentinel is the payload of the terminal wire event.
const DoneSentinel = "[DONE]"

// WireEvent is one unit of the relay-to-client protocol: either a content
// delta or the terminal Done marker.
type WireEvent struct {
	Content string
	Done    bool
}

// ContentEvent returns a content wire event.
func ContentEvent(s string) WireEvent { return WireEvent{Content: s} }

// DoneEvent returns the terminal wire event.
func DoneEvent() WireEvent { return WireEvent{Done: true} }

// WireSink receives outbound wire events in order. A Send error means the
// client is gone.
type WireSink interface {
	Send(ev WireEvent) error
}
