package mail

// Transport is a mail-sending connection. One open/close pair must
// support multiple Send calls, so a dispatcher can amortize connection
// setup across a whole batch.
type Transport interface {
	Open() error
	Send(msg *Message) error
	Close() error
}

// TransportFactory yields a fresh Transport per batch. The dispatcher
// owns the returned transport exclusively until it closes it.
type TransportFactory interface {
	NewTransport() Transport
}
