// Package retry classifies storage and transport errors as transient or
// terminal so callers can decide between re-queueing a batch and dropping it.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision pairs the class with the rule that produced it, for logs.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool { return d.Class == ClassTransient }

func terminal(reason string) Decision  { return Decision{Class: ClassTerminal, Reason: reason} }
func transient(reason string) Decision { return Decision{Class: ClassTransient, Reason: reason} }

// marked carries an explicit classification attached by Transient or
// Terminal.
type marked struct {
	err      error
	decision Decision
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Transient marks an error as retryable regardless of what Classify would
// decide on its own.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, decision: transient("explicit_transient")}
}

// Terminal marks an error as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, decision: terminal("explicit_terminal")}
}

// rules run in order; the first hit wins. Explicit marks beat everything,
// then typed errors, then message sniffing as the last resort.
var rules = []func(error) (Decision, bool){
	explicitMark,
	contextState,
	sqlState,
	netTimeout,
	messageTokens,
}

// Classify decides whether an error is worth retrying. Unknown errors are
// terminal: an archive batch retried on a permanent fault would wedge the
// flush loop behind it.
func Classify(err error) Decision {
	if err == nil {
		return terminal("nil_error")
	}
	for _, rule := range rules {
		if d, ok := rule(err); ok {
			return d
		}
	}
	return terminal("unknown_terminal_default")
}

func explicitMark(err error) (Decision, bool) {
	var m *marked
	if errors.As(err, &m) {
		return m.decision, true
	}
	return Decision{}, false
}

func contextState(err error) (Decision, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return terminal("context_canceled"), true
	case errors.Is(err, context.DeadlineExceeded):
		return transient("context_deadline_exceeded"), true
	}
	return Decision{}, false
}

// sqlState maps PostgreSQL SQLSTATE codes. Connection loss, lock
// contention, and resource pressure clear on their own; constraint and
// syntax violations never do.
func sqlState(err error) (Decision, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return Decision{}, false
	}
	code := string(pqErr.Code)

	switch code {
	case "40001":
		return transient("pg_serialization_failure"), true
	case "40P01":
		return transient("pg_deadlock_detected"), true
	case "57P03":
		return transient("pg_cannot_connect_now"), true
	case "57014":
		// statement_timeout fired; the same batch can succeed under less
		// load.
		return transient("pg_query_canceled"), true
	}

	switch {
	case strings.HasPrefix(code, "08"):
		return transient("pg_connection_exception"), true
	case strings.HasPrefix(code, "53"):
		return transient("pg_insufficient_resources"), true
	case strings.HasPrefix(code, "58"):
		return transient("pg_system_error"), true
	}

	return terminal("pg_sqlstate_" + strings.ToLower(code)), true
}

func netTimeout(err error) (Decision, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient("net_timeout"), true
	}
	return Decision{}, false
}

func messageTokens(err error) (Decision, bool) {
	msg := strings.ToLower(err.Error())
	for _, token := range terminalTokens {
		if strings.Contains(msg, token) {
			return terminal("message_terminal"), true
		}
	}
	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return transient("message_transient"), true
		}
	}
	return Decision{}, false
}

var transientTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"loading the dataset",
	"readonly",
	"server closed idle connection",
}

var terminalTokens = []string{
	"duplicate key",
	"constraint violation",
	"invalid argument",
	"invalid input",
	"parse error",
	"marshal plan",
	"not found",
}
