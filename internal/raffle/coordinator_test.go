package raffle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"launchpad.org/internal/vrf"
)

// A live coordinator worker may fulfill as soon as the request is queued; the
// pool must still resolve every time.
func TestBackgroundFulfillmentResolvesPool(t *testing.T) {
	const rounds = 200
	for i := 0; i < rounds; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		coord, err := vrf.NewCoordinator(key, vrf.WithLogger(zap.NewNop()), vrf.WithPollInterval(5*time.Millisecond))
		require.NoError(t, err)

		h := newHarnessWith(t, testConfig(), coord)
		coord.Register(raffleAddr, h.raffle)
		require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), DefaultPoolCapacity))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = coord.Run(ctx)
			close(done)
		}()

		id, err := h.raffle.RequestRandomness(h.ctx, 0)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			pool, err := h.raffle.Pool(0)
			return err == nil && pool.Status == PoolResolved
		}, 2*time.Second, time.Millisecond, "round %d: pool not resolved", i)

		req, err := coord.Request(id)
		require.NoError(t, err)
		require.Empty(t, req.Error, "round %d", i)

		cancel()
		<-done
	}
}

func TestRestoreReopensDrawWithoutRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), DefaultPoolCapacity))

	snap := h.raffle.Snapshot()
	require.Len(t, snap.Pools, 1)
	snap.Pools[0].Status = PoolAwaitingRandomness
	require.NoError(t, h.raffle.Restore(snap))

	require.Empty(t, h.raffle.PendingDraws())
	pool, err := h.raffle.Pool(0)
	require.NoError(t, err)
	require.Equal(t, PoolOpen, pool.Status)

	_, err = h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, PoolAwaitingRandomness, h.raffle.Snapshot().Pools[0].Status)
	require.Len(t, h.raffle.PendingDraws(), 1)
}
