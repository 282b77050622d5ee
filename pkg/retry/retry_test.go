package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "classified error",
			err:  Errorf(ClassSessionLost, "logged out"),
			want: ClassSessionLost,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("visit failed: %w", Errorf(ClassNoOverlap, "no intersection")),
			want: ClassNoOverlap,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: ClassTimeout,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Errorf(ClassNoOverlap, "")))
	assert.True(t, IsTerminal(Errorf(ClassValidation, "rejected")))
	assert.True(t, IsTerminal(Errorf(ClassSkipped, "operator skip")))
	assert.False(t, IsTerminal(Errorf(ClassTimeout, "")))
	assert.False(t, IsTerminal(Errorf(ClassElementNotFound, "")))
	assert.False(t, IsTerminal(Errorf(ClassSessionLost, "")))
	assert.False(t, IsTerminal(errors.New("boom")))
	assert.False(t, IsTerminal(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(ClassNetwork, cause, "fetch")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK")
	assert.Contains(t, err.Error(), "fetch")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(ClassNetwork, nil, "fetch"))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Errorf(ClassTimeout, "not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnTerminalError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Errorf(ClassNoOverlap, "no intersection")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "terminal errors must not consume the retry budget")
	assert.Equal(t, ClassNoOverlap, Classify(err))
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 4, Delay: 0}, func(ctx context.Context) error {
		calls++
		return Errorf(ClassNetwork, "flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, ClassNetwork, Classify(err))
}

func TestDo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, ClassTimeout, Classify(err))
}

func TestPoll_ConditionBecomesTrue(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Attempts: 5, Delay: time.Millisecond}, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPoll_TimesOut(t *testing.T) {
	err := Poll(context.Background(), Policy{Attempts: 3, Delay: 0}, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.Equal(t, ClassTimeout, Classify(err))
}

func TestPoll_KeepsPollingThroughTransientErrors(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Attempts: 4, Delay: 0}, func(ctx context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, Errorf(ClassElementNotFound, "not rendered yet")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPoll_TerminalErrorShortCircuits(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Attempts: 5, Delay: 0}, func(ctx context.Context) (bool, error) {
		calls++
		return false, Errorf(ClassValidation, "bad value")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ClassValidation, Classify(err))
}
