package blockio_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat/blockio"
)

func TestGatesSerializeAccess(t *testing.T) {
	for name, newGate := range map[string]func() blockio.Gate{
		"blocking":    blockio.NewBlockingGate,
		"cooperative": blockio.NewCooperativeGate,
	} {
		t.Run(name, func(t *testing.T) {
			g := newGate()
			require.NoError(t, g.Lock(context.Background()))
			g.Unlock()
			require.NoError(t, g.Lock(context.Background()))
			g.Unlock()
		})
	}
}

func TestBlockingGateRejectsCanceledContext(t *testing.T) {
	g := blockio.NewBlockingGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, g.Lock(ctx))
}

func TestCooperativeGateRejectsCanceledContextWhenHeld(t *testing.T) {
	g := blockio.NewCooperativeGate()
	require.NoError(t, g.Lock(context.Background())) // take the only token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, g.Lock(ctx))
}
