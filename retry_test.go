package llmrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/llmrelay/llmrelay/pkg/errors"
)

func TestBackoffDelay(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   350 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(p, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(p, 2))
	assert.Equal(t, 350*time.Millisecond, backoffDelay(p, 3), "capped at MaxDelay")
	assert.Equal(t, 350*time.Millisecond, backoffDelay(p, 4))

	// Delays never decrease as attempts grow.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(p, attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoffDelay_NoCap(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, Multiplier: 3.0}
	assert.Equal(t, 90*time.Millisecond, backoffDelay(p, 3))
}

// An always-retryable failing provider is attempted exactly MaxAttempts
// times, no more, no fewer.
func TestRetry_ExactAttemptBound(t *testing.T) {
	openai := failingMock("openai", llmerrors.NewServerError("openai", "flaky", 500))

	r := newTestRouter(t,
		WithProviderInstance("openai", openai),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    5 * time.Millisecond,
		}),
	)

	_, err := r.Chat(context.Background(), userRequest())
	require.Error(t, err)
	assert.Equal(t, 3, openai.chatCalls())
	assert.Equal(t, uint64(3), r.Metrics()["openai"].Failures)
}

func TestRetry_SucceedsMidway(t *testing.T) {
	openai := newMock("openai")
	openai.script = []error{
		llmerrors.NewServerError("openai", "blip", 500),
		llmerrors.NewRateLimitError("openai", "slow down", 0),
		nil,
	}

	r := newTestRouter(t,
		WithProviderInstance("openai", openai),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    5 * time.Millisecond,
		}),
	)

	resp, err := r.Chat(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.ServedBy)
	assert.Equal(t, 3, openai.chatCalls())
}

// A non-retryable failure short-circuits: one attempt, and the fallback
// chain is never invoked.
func TestRetry_NonRetryableShortCircuit(t *testing.T) {
	openai := failingMock("openai", llmerrors.NewAuthenticationError("openai", "bad key"))
	claude := newMock("claude")

	r := newTestRouter(t,
		WithProviderInstance("openai", openai),
		WithProviderInstance("claude", claude),
		WithDefaultProvider("openai"),
		WithFallback("claude"),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 4,
			BaseDelay:   time.Millisecond,
			Multiplier:  2.0,
			MaxDelay:    5 * time.Millisecond,
		}),
	)

	_, err := r.Chat(context.Background(), userRequest())
	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindAuthentication, ce.Kind)

	assert.Equal(t, 1, openai.chatCalls())
	assert.Equal(t, 0, claude.chatCalls(), "fallback never invoked for non-retryable errors")
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	openai := newMock("openai")
	openai.chatFn = func(context.Context, *ChatRequest) (*ChatResponse, error) {
		cancel()
		return nil, llmerrors.NewServerError("openai", "flaky", 500)
	}

	r := newTestRouter(t,
		WithProviderInstance("openai", openai),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Minute,
			Multiplier:  2.0,
			MaxDelay:    time.Minute,
		}),
	)

	start := time.Now()
	_, err := r.Chat(ctx, userRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "backoff aborted on cancellation")
	assert.Equal(t, 1, openai.chatCalls())
}
