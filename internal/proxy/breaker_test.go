package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/logging"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*Breaker, *clock) {
	clk := &clock{t: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, 30*time.Second, logging.Discard())
	b.now = clk.now
	return b, clk
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker(0, time.Second, logging.Discard())
	assert.Nil(t, b)
	assert.NoError(t, b.Allow())
	b.Record(errors.New("boom"))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	boom := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(boom)
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("boom")

	b.Record(boom)
	b.Record(nil)
	b.Record(boom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ClientErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(1)

	b.Record(&completion.StatusError{StatusCode: 401, Message: "bad key"})
	b.Record(context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	b.Record(&completion.StatusError{StatusCode: 502, Message: "bad gateway"})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clk := newTestBreaker(1)
	boom := errors.New("boom")

	b.Record(boom)
	require.Equal(t, StateOpen, b.State())

	clk.t = clk.t.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// only one trial at a time
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// a failed trial reopens
	b.Record(boom)
	assert.Equal(t, StateOpen, b.State())

	clk.t = clk.t.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestService_BreakerShortCircuits(t *testing.T) {
	up := &fakeUpstream{err: &completion.StatusError{StatusCode: 503, Message: "overloaded"}}
	b, _ := newTestBreaker(1)
	s, err := NewService(up, "m", defaultRules, logging.Discard(), WithBreaker(b))
	require.NoError(t, err)

	_, err = s.Complete(context.Background(), userMessages("hi"))
	assert.ErrorIs(t, err, completion.ErrUpstream)
	assert.Equal(t, StateOpen, s.UpstreamState())

	up.got = completion.Request{}
	_, err = s.Complete(context.Background(), userMessages("hi again"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, up.got.Messages)
}
