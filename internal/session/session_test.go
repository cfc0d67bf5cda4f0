package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mudforge/driver/internal/core/ecs"
)

// Session round-trip (invariant 6): a token issued for an entity verifies
// back to that same entity before expiry.
func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	id := ecs.NewEntityID(42, 1)

	token := signer.Issue(id, time.Minute)
	got, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestTokenSignerRejectsExpired(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	id := ecs.NewEntityID(1, 0)

	token := signer.Issue(id, -time.Second)
	_, err := signer.Verify(token)
	require.Error(t, err)
}

func TestTokenSignerRejectsTamperedToken(t *testing.T) {
	signer := NewTokenSigner("test-secret")
	token := signer.Issue(ecs.NewEntityID(1, 0), time.Minute)

	tampered := []byte(token)
	tampered[0] ^= 0xFF
	_, err := signer.Verify(string(tampered))
	require.Error(t, err)
}

func TestTokenSignerRejectsWrongSecret(t *testing.T) {
	a := NewTokenSigner("secret-a")
	b := NewTokenSigner("secret-b")

	token := a.Issue(ecs.NewEntityID(1, 0), time.Minute)
	_, err := b.Verify(token)
	require.Error(t, err)
}

func TestBindUnbindRoundTrip(t *testing.T) {
	s := &Session{out: make(chan []byte, 1), closed: make(chan struct{})}
	id := ecs.NewEntityID(7, 0)

	_, ok := s.BoundEntity()
	require.False(t, ok)

	s.Bind(id)
	got, ok := s.BoundEntity()
	require.True(t, ok)
	require.Equal(t, id, got)

	s.Unbind()
	_, ok = s.BoundEntity()
	require.False(t, ok)
}

// Backpressure watermarks are measured in buffered_bytes, not queue depth
// (spec §3/§4.H): the hard watermark queues further messages and only
// suppresses pings, it never drops them.
func TestSendSuppressesPingsAtHardWatermarkButStillQueues(t *testing.T) {
	s := &Session{
		out:        make(chan []byte, 10),
		watermarks: Watermarks{Soft: 1, Hard: 2, Critical: 100},
		closed:     make(chan struct{}),
	}
	s.Send([]byte("a"))
	require.True(t, s.ShouldPing())

	s.Send([]byte("bb")) // buffered_bytes now 3, past the hard watermark of 2
	require.Len(t, s.out, 2)
	require.False(t, s.ShouldPing())
	require.False(t, s.Closed())
}

// Scenario 6: once buffered_bytes crosses the critical watermark the
// connection is terminated with reason buffer_backlog.
func TestSendTerminatesAtCriticalWatermark(t *testing.T) {
	s := &Session{
		out:        make(chan []byte, 10),
		watermarks: Watermarks{Soft: 1, Hard: 2, Critical: 3},
		closed:     make(chan struct{}),
	}
	s.Send([]byte("ab"))
	require.False(t, s.Closed())

	s.Send([]byte("cd")) // buffered_bytes now 4, past the critical watermark of 3
	require.True(t, s.Closed())
	require.Equal(t, "buffer_backlog", s.Reason())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := &Session{out: make(chan []byte, 1), closed: make(chan struct{})}
	require.False(t, s.Closed())
	require.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
	require.True(t, s.Closed())
}
