package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// fakeProvider answers per model from a script and records the call order.
type fakeProvider struct {
	mu      sync.Mutex
	name    string
	replies map[string]func(ctx context.Context) (string, error)
	calls   []string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, replies: map[string]func(ctx context.Context) (string, error){}}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, model, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	fn := f.replies[model]
	f.mu.Unlock()
	if fn == nil {
		return "", errors.New("model not found")
	}
	return fn(ctx)
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func ok(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(msg string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", errors.New(msg) }
}

func TestNewInvoker_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewInvoker(nil, []string{"m"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = NewInvoker(newFakeProvider("p"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestInvoke_StopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["m1"] = fail("quota")
	p.replies["m2"] = ok("   ")
	p.replies["m3"] = ok("answer")
	p.replies["m4"] = ok("never")

	inv, err := NewInvoker(p, []string{"m1", "m2", "m3", "m4"})
	require.NoError(t, err)
	res, err := inv.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Text)
	assert.Equal(t, "m3", res.Model)
	assert.Equal(t, []string{"m1", "m2", "m3"}, p.Calls())
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, OutcomeError, res.Attempts[0].Outcome)
	assert.Equal(t, OutcomeEmpty, res.Attempts[1].Outcome)
	assert.ErrorIs(t, res.Attempts[1].Err, ErrEmptyCompletion)
	assert.Equal(t, OutcomeSuccess, res.Attempts[2].Outcome)
}

func TestInvoke_AllExhausted(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["a"] = fail("boom a")
	p.replies["b"] = fail("boom b")

	inv, err := NewInvoker(p, []string{"a", "b"})
	require.NoError(t, err)
	_, err = inv.Invoke(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAllModelsExhausted))

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	require.Len(t, ex.Attempts, 2)
	assert.Equal(t, "a", ex.Attempts[0].Model)
	assert.ErrorIs(t, ex.Attempts[0].Err, domain.ErrProviderFailure)
	assert.Contains(t, err.Error(), "boom b")
	assert.Equal(t, []string{"a", "b"}, p.Calls())
}

func TestInvoke_AttemptTimeoutAdvancesCascade(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["slow"] = func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	p.replies["fast"] = ok("quick")

	inv, err := NewInvoker(p, []string{"slow", "fast"}, WithAttemptTimeout(20*time.Millisecond))
	require.NoError(t, err)
	res, err := inv.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "quick", res.Text)
	assert.Equal(t, OutcomeTimeout, res.Attempts[0].Outcome)
}

func TestInvoke_CancelledCallerLetsInFlightFinishButStops(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var providerCtxErr error
	p := newFakeProvider("gemini")
	p.replies["m1"] = func(pctx context.Context) (string, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		providerCtxErr = pctx.Err()
		return "", errors.New("upstream 500")
	}
	p.replies["m2"] = ok("should not be called")

	inv, err := NewInvoker(p, []string{"m1", "m2"})
	require.NoError(t, err)
	res, err := inv.Invoke(ctx, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, domain.ErrAllModelsExhausted))
	assert.NoError(t, providerCtxErr, "in-flight call must not see caller cancellation")
	assert.Equal(t, []string{"m1"}, p.Calls())
	assert.Len(t, res.Attempts, 1)
}

func TestInvoke_AlreadyCancelledMakesNoCalls(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["m1"] = ok("x")
	inv, err := NewInvoker(p, []string{"m1"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inv.Invoke(ctx, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Calls())
}

func TestInvoke_CascadeDeadlineSkipsRemaining(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["m1"] = func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	p.replies["m2"] = ok("late")

	inv, err := NewInvoker(p, []string{"m1", "m2"},
		WithAttemptTimeout(time.Second),
		WithCascadeDeadline(30*time.Millisecond))
	require.NoError(t, err)
	_, err = inv.Invoke(context.Background(), "prompt")
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	require.Len(t, ex.Attempts, 2)
	assert.Equal(t, OutcomeTimeout, ex.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSkipped, ex.Attempts[1].Outcome)
	assert.ErrorIs(t, ex.Attempts[1].Err, ErrCascadeDeadline)
	assert.Equal(t, []string{"m1"}, p.Calls())
}

func TestInvoke_CircuitBreakerSkipsFailingModel(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["bad"] = fail("deprecated")
	p.replies["good"] = ok("fine")
	inv, err := NewInvoker(p, []string{"bad", "good"}, WithCircuitBreakers(NewCircuitBreakerManager()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := inv.Invoke(context.Background(), "prompt")
		require.NoError(t, err)
	}
	res, err := inv.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCircuitOpen, res.Attempts[0].Outcome)
	assert.Equal(t, "fine", res.Text)
	// 3 real calls to "bad", then skipped
	calls := p.Calls()
	bad := 0
	for _, c := range calls {
		if c == "bad" {
			bad++
		}
	}
	assert.Equal(t, 3, bad)
}

func TestInvoke_WithTokenCounterAndRouter(t *testing.T) {
	t.Parallel()
	g := newFakeProvider("gemini")
	g.replies["gemini-2.0-flash"] = fail("503")
	o := newFakeProvider("openai")
	o.replies["gpt-4o-mini"] = ok("from openai")
	r, err := NewRouter(g, o)
	require.NoError(t, err)

	inv, err := NewInvoker(r, []string{"gemini-2.0-flash", "openai:gpt-4o-mini"}, WithTokenCounter(tokencount.NewCounter()))
	require.NoError(t, err)
	res, err := inv.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from openai", res.Text)
	assert.Equal(t, "openai:gpt-4o-mini", res.Model)
	assert.Equal(t, []string{"gemini-2.0-flash"}, g.Calls())
	assert.Equal(t, []string{"gpt-4o-mini"}, o.Calls())
	assert.Equal(t, []string{"gemini-2.0-flash", "openai:gpt-4o-mini"}, inv.Models())

	require.Len(t, res.Attempts, 2)
	assert.Nil(t, res.Attempts[0].Usage, "failed attempts carry no usage")
	u := res.Attempts[1].Usage
	require.NotNil(t, u)
	assert.Equal(t, "openai", u.Provider)
	assert.Equal(t, "openai:gpt-4o-mini", u.Model)
	assert.Positive(t, u.PromptTokens)
	assert.Positive(t, u.CompletionTokens)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
}

func TestInvoke_NoUsageWithoutCounter(t *testing.T) {
	t.Parallel()
	p := newFakeProvider("gemini")
	p.replies["gemini-2.0-flash"] = ok("hello")
	inv, err := NewInvoker(p, []string{"gemini-2.0-flash"})
	require.NoError(t, err)
	res, err := inv.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.Nil(t, res.Attempts[0].Usage)
}
