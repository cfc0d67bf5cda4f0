package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBootRunsStagesInOrderAndStopsOnFailure(t *testing.T) {
	c := New(nil, time.Hour, time.Second)
	var ran []string

	err := c.Boot(context.Background(), []Stage{
		{Name: "a", Run: func(ctx context.Context) error { ran = append(ran, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { return errors.New("boom") }},
		{Name: "c", Run: func(ctx context.Context) error { ran = append(ran, "c"); return nil }},
	})

	require.Error(t, err)
	require.Equal(t, []string{"a"}, ran)
}

func TestShutdownRunsStoppersInReverseOrder(t *testing.T) {
	c := New(nil, time.Hour, time.Second)
	var order []string

	c.RegisterStopper(Stopper{Name: "net", Stop: func(ctx context.Context) error {
		order = append(order, "net")
		return nil
	}})
	c.RegisterStopper(Stopper{Name: "store", Stop: func(ctx context.Context) error {
		order = append(order, "store")
		return nil
	}})

	err := c.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"store", "net"}, order)
}

func TestShutdownAggregatesAllStopperErrors(t *testing.T) {
	c := New(nil, time.Hour, time.Second)
	c.RegisterStopper(Stopper{Name: "a", Stop: func(ctx context.Context) error { return errors.New("a failed") }})
	c.RegisterStopper(Stopper{Name: "b", Stop: func(ctx context.Context) error { return errors.New("b failed") }})

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "a failed")
	require.Contains(t, err.Error(), "b failed")
}

func TestAutosaveFiresDuringRunAndOnShutdown(t *testing.T) {
	c := New(nil, 10*time.Millisecond, time.Second)
	var saves int
	c.StartAutosave(func(ctx context.Context) error {
		saves++
		return nil
	})

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background()))
	require.GreaterOrEqual(t, saves, 1)
}
