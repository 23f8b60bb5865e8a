package core

// Frame is a raw payload (a meta message or a relayed media chunk).
type Frame []byte

// ConnID tags a transport connection for log correlation. Media connections
// have no username until their first payload, so they get a synthetic id.
type ConnID string

// SignalConnection abstracts the meta-channel messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MediaStream abstracts one media-channel connection: an ordered sequence of
// opaque payloads in each direction. Owned by the pairing manager once parked.
type MediaStream interface {
	ID() ConnID
	ReadPayload() (Frame, error)
	WritePayload(Frame) error
	Close() error
}
