package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreakerExecute(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	require.NoError(t, cb.Execute("op", func() error { return nil }))
	require.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)

	clock.advance(2 * time.Minute)
	require.NoError(t, cb.Execute("op", func() error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Second)
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute("op", func() error { return boom })
	}
	require.Equal(t, CircuitOpen, cb.State())

	clock.advance(2 * time.Second)
	require.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())
	require.ErrorIs(t, cb.Execute("op", func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitStateString(t *testing.T) {
	require.Equal(t, "closed", CircuitClosed.String())
	require.Equal(t, "open", CircuitOpen.String())
	require.Equal(t, "half-open", CircuitHalfOpen.String())
}

func TestGuardedClientCountsServerErrors(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	leads := &fakeLeads{status: 503}
	client := NewGuardedClient(leads, cb)

	resp, err := client.AddLead(context.Background(), bitrix.Lead{})
	require.NoError(t, err)
	require.Equal(t, 503, resp.Status)
	_, err = client.AddLead(context.Background(), bitrix.Lead{})
	require.NoError(t, err)
	require.Equal(t, CircuitOpen, cb.State())

	_, err = client.AddLead(context.Background(), bitrix.Lead{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Len(t, leads.added, 2)
}

func TestGuardedClientClientErrorsKeepCircuitClosed(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	client := NewGuardedClient(&fakeLeads{status: 200}, cb)

	resp, err := client.DeleteLead(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 400, resp.Status)
	require.Equal(t, CircuitClosed, cb.State())

	_, err = client.AssigneeID(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, bitrix.ErrAssigneeNotFound)
	require.Equal(t, CircuitClosed, cb.State())
}

func TestGuardedClientTransportErrorOpensCircuit(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	client := NewGuardedClient(&fakeLeads{err: errors.New("dial tcp: refused")}, cb)

	_, err := client.AddLead(context.Background(), bitrix.Lead{})
	require.Error(t, err)
	require.Equal(t, CircuitOpen, cb.State())

	_, err = client.GetLead(context.Background(), 77)
	require.ErrorIs(t, err, ErrCircuitOpen)
}
