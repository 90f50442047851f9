package transport

import "fmt"

// ErrorKind classifies where a send failed.
type ErrorKind int

const (
	KindDial ErrorKind = iota
	KindProxy
	KindTLS
	KindWrite
	KindRead
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindDial:
		return "connection failed"
	case KindProxy:
		return "proxy failed"
	case KindTLS:
		return "TLS handshake failed"
	case KindWrite:
		return "socket write failed"
	case KindRead:
		return "socket read failed"
	case KindProtocol:
		return "protocol error"
	default:
		return fmt.Sprintf("unknown transport error: %d", int(k))
	}
}

// Error is returned by Client.Execute for every failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
