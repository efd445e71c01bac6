package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("stream write failed")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("malformed plan record")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_MarkersSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("flush drive plans: %w", Transient(errors.New("pool drained")))
	decision := Classify(wrapped)
	assert.True(t, decision.IsTransient())
}

// An explicit mark wins over every later rule, even when the message would
// sniff the other way.
func TestClassify_ExplicitMarkBeatsMessageSniffing(t *testing.T) {
	err := Terminal(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	decision := Classify(err)
	assert.Equal(t, ClassTerminal, decision.Class)
	assert.Equal(t, "explicit_terminal", decision.Reason)
}

// timeoutErr satisfies net.Error with Timeout() true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_NetTimeoutTransient(t *testing.T) {
	decision := Classify(fmt.Errorf("publish plan: %w", timeoutErr{}))
	assert.True(t, decision.IsTransient())
	assert.Equal(t, "net_timeout", decision.Reason)
}

func TestClassify_NilIsTerminal(t *testing.T) {
	decision := Classify(nil)
	assert.Equal(t, ClassTerminal, decision.Class)
	assert.Equal(t, "nil_error", decision.Reason)
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "context canceled terminal",
			err:           context.Canceled,
			expectedClass: ClassTerminal,
		},
		{
			name:          "pg deadlock transient",
			err:           &pq.Error{Code: "40P01"},
			expectedClass: ClassTransient,
		},
		{
			name:          "pg statement timeout transient",
			err:           &pq.Error{Code: "57014"},
			expectedClass: ClassTransient,
		},
		{
			name:          "pg connection exception transient",
			err:           &pq.Error{Code: "08006"},
			expectedClass: ClassTransient,
		},
		{
			name:          "pg unique violation terminal",
			err:           &pq.Error{Code: "23505"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "pg undefined column terminal",
			err:           &pq.Error{Code: "42703"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "connection refused transient",
			err:           errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			expectedClass: ClassTransient,
		},
		{
			name:          "duplicate key terminal",
			err:           errors.New(`insert drive plans: duplicate key value violates unique constraint "drive_plans_pkey"`),
			expectedClass: ClassTerminal,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class, "reason: %s", decision.Reason)
		})
	}
}

// Terminal SQLSTATEs carry their code in the reason so a dropped batch can
// be traced back to the exact server complaint.
func TestClassify_SQLStateReasonCarriesCode(t *testing.T) {
	decision := Classify(&pq.Error{Code: "23505"})
	assert.Equal(t, "pg_sqlstate_23505", decision.Reason)

	decision = Classify(&pq.Error{Code: "42P01"})
	assert.Equal(t, "pg_sqlstate_42p01", decision.Reason)
}

func TestClassify_WrappedPqErrorFound(t *testing.T) {
	wrapped := fmt.Errorf("insert drive plans: %w", &pq.Error{Code: "40001"})
	decision := Classify(wrapped)
	assert.Equal(t, ClassTransient, decision.Class)
	assert.Equal(t, "pg_serialization_failure", decision.Reason)
}
