package epoch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectBlocksReclaimUntilUnprotect(t *testing.T) {
	e := New()
	g := e.Protect()
	startEpoch := e.Current()

	fired := false
	e.OnSafeToReclaim(startEpoch+1, func() { fired = true })

	e.Bump()
	assert.False(t, fired, "guard still holds the old epoch")

	g.Unprotect()
	e.Bump()
	assert.True(t, fired, "callback runs once the guard releases")
}

func TestOnSafeToReclaimFiresImmediatelyWhenAlreadySafe(t *testing.T) {
	e := New()
	fired := false
	e.OnSafeToReclaim(e.Current(), func() { fired = true })
	assert.True(t, fired)
}

func TestDrainReturnsOnceSafe(t *testing.T) {
	e := New()
	g := e.Protect()
	target := e.Current() + 1

	done := make(chan error, 1)
	go func() { done <- e.Drain(context.Background(), target) }()

	g.Unprotect()
	require.NoError(t, <-done)
}

func TestDrainRespectsContextCancellation(t *testing.T) {
	e := New()
	g := e.Protect()
	defer g.Unprotect()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Drain(ctx, e.Current()+1)
	assert.Error(t, err)
}

func TestRefreshAdvancesGuardEpoch(t *testing.T) {
	e := New()
	g := e.Protect()
	e.Bump()
	e.Bump()
	g.Refresh()
	assert.Equal(t, e.Current(), g.slot.Load())
}
