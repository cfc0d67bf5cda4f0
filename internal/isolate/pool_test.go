package isolate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Isolate exclusivity (invariant 7): no two concurrent holders ever observe
// the same isolate at once.
func TestAcquireIsExclusive(t *testing.T) {
	p, err := New(1, 8)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	iso1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		iso2, err := p.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		iso2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the only isolate is held")
	case <-time.After(50 * time.Millisecond):
	}

	iso1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	p, err := New(1, 8)
	require.NoError(t, err)
	defer p.Close()

	iso, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer iso.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

func TestStatsReflectOccupancy(t *testing.T) {
	p, err := New(2, 8)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, Stats{Total: 2, InUse: 0, Available: 2}, p.Stats())

	iso, err := p.Acquire(context.Background())
	require.NoError(t, err)

	s := p.Stats()
	require.Equal(t, 2, s.Total)
	require.Equal(t, 1, s.InUse)
	require.Equal(t, 1, s.Available)

	iso.Release()
	require.Equal(t, Stats{Total: 2, InUse: 0, Available: 2}, p.Stats())
}

func TestRunSimpleScript(t *testing.T) {
	p, err := New(1, 8)
	require.NoError(t, err)
	defer p.Close()

	iso, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer iso.Release()

	err = iso.VM.DoString(`x = 1 + 1`)
	require.NoError(t, err)
}
