package router

import "fmt"

// Kind classifies a call failure at the forwarding boundary. The
// distinction drives the status state machine: a direct failure sends the
// instance straight to offline, anything else returns it to online.
type Kind int

const (
	// KindNoInstance: no registered instance matched the requested name.
	KindNoInstance Kind = iota
	// KindDirect: the hub itself could not reach the instance's port.
	KindDirect
	// KindDownstream: the instance answered but reported an error of its
	// own (application error, or a failure of one of its dependencies).
	KindDownstream
	// KindTimeout: the call exceeded its deadline after the transport was
	// established.
	KindTimeout
	// KindUnimplemented: no forwarding mechanism is configured.
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindNoInstance:
		return "no_instance"
	case KindDirect:
		return "direct_connection_failure"
	case KindDownstream:
		return "downstream_failure"
	case KindTimeout:
		return "timeout"
	case KindUnimplemented:
		return "not_implemented"
	}
	return "unknown"
}

// CallError is the tagged error returned by Router.Call.
type CallError struct {
	Kind Kind
	err  error
}

func (e *CallError) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return e.err.Error()
}

func (e *CallError) Unwrap() error { return e.err }

func noInstanceError(name string) *CallError {
	return &CallError{Kind: KindNoInstance, err: fmt.Errorf("no instance registered for service %q", name)}
}

func directError(err error) *CallError {
	return &CallError{Kind: KindDirect, err: err}
}

func downstreamError(err error) *CallError {
	return &CallError{Kind: KindDownstream, err: err}
}

func timeoutError(err error) *CallError {
	return &CallError{Kind: KindTimeout, err: err}
}

func unimplementedError() *CallError {
	return &CallError{Kind: KindUnimplemented, err: fmt.Errorf("call forwarding is not configured")}
}
