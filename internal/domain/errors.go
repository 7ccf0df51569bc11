package domain

import "errors"

var (
	// ErrMalformedPacket is returned when a datagram cannot be framed as an MDP packet.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidQueueSize is returned when the reorder queue capacity is not a power of two.
	ErrInvalidQueueSize = errors.New("queue size must be a positive power of two")

	// ErrUnknownChannel is returned when a channel id is not configured
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// RetriableError is implemented by errors a receiver may recover from by
// reopening its socket.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable reports whether any error in err's chain is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError is a socket failure on one feed line.
type NetworkError struct {
	Op        string // resolve, interface, listen, join or read
	Addr      string // line address or interface name
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	if e.Addr == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool { return e.Retriable }

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps a socket error the receiver will retry.
func NewNetworkError(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err, Retriable: true}
}

// NewFatalNetworkError wraps a socket error caused by configuration; retrying
// cannot fix it.
func NewFatalNetworkError(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// ConfigError names the configuration field that failed validation. It is
// never retriable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool { return false }

func (e *ConfigError) Unwrap() error { return e.Err }
