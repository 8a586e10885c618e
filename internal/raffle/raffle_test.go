package raffle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"launchpad.org/internal/asset"
	"launchpad.org/internal/events"
	"launchpad.org/internal/staker"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	ledgerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	raffleAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")

	ether = uint256.MustFromDecimal("1000000000000000000")
)

func tokens(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), ether) }

func account(i int) common.Address {
	return common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
}

type fakeRNG struct {
	n    byte
	fail error
	last common.Hash
}

func (f *fakeRNG) Address() common.Address { return oracleAddr }

func (f *fakeRNG) RequestRandomness(ctx context.Context, consumer common.Address, seed common.Hash) (common.Hash, error) {
	if f.fail != nil {
		return common.Hash{}, f.fail
	}
	f.n++
	f.last = common.BytesToHash([]byte{0xAB, f.n})
	return f.last, nil
}

type harness struct {
	ctx      context.Context
	now      int64
	stakeTok *asset.Ledger
	saleTok  *asset.Ledger
	ledger   *staker.Ledger
	rng      *fakeRNG
	raffle   *Raffle
	recorder *events.Recorder
}

func testConfig() Config {
	return Config{
		TotalUnits:   tokens(10_000),
		UnitSize:     ether.Clone(),
		TotalPrice:   tokens(10),
		MinStake:     tokens(10),
		PoolCapacity: DefaultPoolCapacity,
		TicketWindow: time.Hour,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, &fakeRNG{})
}

func newHarnessWith(t *testing.T, cfg Config, src RandomnessSource) *harness {
	t.Helper()
	h := &harness{
		ctx:      context.Background(),
		now:      1_700_000_000,
		stakeTok: asset.NewLedger("POL"),
		saleTok:  asset.NewLedger("TST"),
		recorder: &events.Recorder{},
	}
	if f, ok := src.(*fakeRNG); ok {
		h.rng = f
	}
	h.ledger = staker.New(ledgerAddr, ownerAddr, h.stakeTok, staker.Config{})
	h.ledger.SetNowFunc(h.clock)
	for i := 0; i < 5; i++ {
		acc := account(i)
		require.NoError(t, h.stakeTok.Mint(h.ctx, acc, tokens(100)))
		require.NoError(t, h.stakeTok.Approve(h.ctx, acc, ledgerAddr, tokens(50)))
		require.NoError(t, h.ledger.Stake(h.ctx, acc, tokens(50)))
		require.NoError(t, h.stakeTok.Approve(h.ctx, acc, raffleAddr, tokens(50)))
	}

	r, err := New(raffleAddr, ownerAddr, cfg, h.ledger, Assets{Stake: h.stakeTok, Sale: h.saleTok}, src)
	require.NoError(t, err)
	r.SetNowFunc(h.clock)
	r.SetEmitter(h.recorder)
	h.raffle = r

	require.NoError(t, h.ledger.AddLocker(h.ctx, ownerAddr, raffleAddr))
	require.NoError(t, h.saleTok.Mint(h.ctx, raffleAddr, cfg.TotalUnits))
	require.NoError(t, r.Initialize(h.ctx, ownerAddr, h.now))
	return h
}

func (h *harness) clock() int64 { return h.now }

func TestBuyTickets(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 5))
	require.Equal(t, uint64(5), h.raffle.TicketCount(account(0)))
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 5))
	require.Equal(t, uint64(5), h.raffle.TicketCount(account(1)))
	require.Equal(t, uint64(10), h.raffle.TicketsSold())

	pool, err := h.raffle.Pool(0)
	require.NoError(t, err)
	require.Equal(t, 2, pool.Participants)
	require.Equal(t, uint64(10), pool.Tickets)

	// 0.001 POL per ticket.
	paid, _ := h.stakeTok.BalanceOf(h.ctx, raffleAddr)
	require.Equal(t, "10000000000000000", paid.Dec())
}

func TestFullPoolsHoldOneParticipantEach(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 3; i++ {
		require.NoError(t, h.raffle.BuyTickets(h.ctx, account(i), 30))
	}
	require.Equal(t, uint64(90), h.raffle.TicketsSold())
	require.Equal(t, 3, h.raffle.PoolCount())
	for i := 0; i < 3; i++ {
		pool, err := h.raffle.Pool(i)
		require.NoError(t, err)
		require.Equal(t, 1, pool.Participants)
		require.Equal(t, account(i), pool.Entries[0].Account)
	}
}

func TestPurchaseSplitsAcrossPools(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 20))
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 20))

	first, _ := h.raffle.Pool(0)
	second, _ := h.raffle.Pool(1)
	require.Equal(t, []Entry{{account(0), 20}, {account(1), 10}}, first.Entries)
	require.Equal(t, []Entry{{account(1), 10}}, second.Entries)
	require.Equal(t, []string{
		events.TypeRaffleInitialized,
		events.TypeTicketsPurchased,
		events.TypeTicketsPurchased,
		events.TypeTicketsPurchased,
	}, h.recorder.Types())
}

func TestBuyTicketsOutsideWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	h.now--
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(0), 1), ErrInvalidPhase)
	h.now += int64(time.Hour/time.Second) + 1
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(0), 1), ErrInvalidPhase)
	require.Equal(t, PhaseClosed, h.raffle.Phase())
}

func TestCapacityExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.TotalUnits = tokens(5)
	h := newHarness(t, cfg)

	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(0), 6), ErrCapacityExceeded)
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 5))
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(1), 1), ErrCapacityExceeded)
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(1), 0), ErrInvalidAmount)
}

func TestBuyTicketsRequiresStakeAndPayment(t *testing.T) {
	h := newHarness(t, testConfig())
	stranger := account(42)
	require.NoError(t, h.stakeTok.Mint(h.ctx, stranger, tokens(1)))
	require.NoError(t, h.stakeTok.Approve(h.ctx, stranger, raffleAddr, tokens(1)))
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, stranger, 1), ErrInsufficientStake)

	require.NoError(t, h.stakeTok.Approve(h.ctx, account(0), raffleAddr, new(uint256.Int)))
	require.ErrorIs(t, h.raffle.BuyTickets(h.ctx, account(0), 1), ErrTransferFailed)
	require.Equal(t, uint64(0), h.raffle.TicketsSold())

	// The failed purchases released their reservations.
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 1))
	require.Equal(t, uint64(1), h.raffle.TicketsSold())
}

func TestBuyTicketsLocksStake(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 1))
	require.ErrorIs(t, h.ledger.Unstake(h.ctx, account(0), tokens(50)), staker.ErrLockActive)

	h.now += int64(time.Hour / time.Second)
	require.NoError(t, h.ledger.Unstake(h.ctx, account(0), tokens(50)))
}

func TestRequestRandomness(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.ErrorIs(t, err, ErrPoolNotFound)

	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 10))
	_, err = h.raffle.RequestRandomness(h.ctx, 0)
	require.ErrorIs(t, err, ErrPoolNotReady)

	h.rng.fail = errors.New("oracle down")
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 20))
	_, err = h.raffle.RequestRandomness(h.ctx, 0)
	require.Error(t, err)
	pool, _ := h.raffle.Pool(0)
	require.Equal(t, PoolOpen, pool.Status)

	h.rng.fail = nil
	id, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, h.rng.last, id)
	_, err = h.raffle.RequestRandomness(h.ctx, 0)
	require.ErrorIs(t, err, ErrAlreadyRequested)
}

func TestPartialPoolDrawableAfterWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 3))
	h.now += int64(time.Hour / time.Second)
	_, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)
}

func TestFulfillRandomnessExactlyOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < 3; i++ {
		require.NoError(t, h.raffle.BuyTickets(h.ctx, account(i), 30))
	}
	id, err := h.raffle.RequestRandomness(h.ctx, 2)
	require.NoError(t, err)

	value := uint256.MustFromDecimal("77626901581511883625746798795701147174388658559238937904298300184740954966236")
	require.ErrorIs(t, h.raffle.FulfillRandomness(h.ctx, account(0), id, value), ErrUnauthorized)
	require.ErrorIs(t, h.raffle.FulfillRandomness(h.ctx, oracleAddr, common.Hash{0x01}, value), ErrUnknownRequest)

	require.NoError(t, h.raffle.FulfillRandomness(h.ctx, oracleAddr, id, value))
	require.ErrorIs(t, h.raffle.FulfillRandomness(h.ctx, oracleAddr, id, value), ErrAlreadyResolved)

	pool, err := h.raffle.Pool(2)
	require.NoError(t, err)
	require.Equal(t, PoolResolved, pool.Status)
	require.Equal(t, 1, pool.Participants)
	require.Equal(t, account(2), pool.Winner)
	want := new(uint256.Int).Mod(value, uint256.NewInt(30)).Uint64()
	require.Equal(t, want, pool.WinningTicket)
}

func TestWinnerHoldsDrawnTicket(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 5))
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 5))
	h.now += int64(time.Hour / time.Second)

	id, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)
	// Tickets 0-4 belong to account 0 and 5-9 to account 1.
	require.NoError(t, h.raffle.FulfillRandomness(h.ctx, oracleAddr, id, uint256.NewInt(17)))

	pool, _ := h.raffle.Pool(0)
	require.Equal(t, uint64(7), pool.WinningTicket)
	require.Equal(t, account(1), pool.Winner)
}

func TestClaim(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 30))

	_, err := h.raffle.Claim(h.ctx, account(0), 0)
	require.ErrorIs(t, err, ErrNotResolved)

	id, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)
	require.NoError(t, h.raffle.FulfillRandomness(h.ctx, oracleAddr, id, uint256.NewInt(3)))

	_, err = h.raffle.Claim(h.ctx, account(1), 0)
	require.ErrorIs(t, err, ErrNotWinner)

	units, err := h.raffle.Claim(h.ctx, account(0), 0)
	require.NoError(t, err)
	require.Equal(t, tokens(30).Dec(), units.Dec())
	bal, _ := h.saleTok.BalanceOf(h.ctx, account(0))
	require.Equal(t, tokens(30).Dec(), bal.Dec())

	_, err = h.raffle.Claim(h.ctx, account(0), 0)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestRecoverOwnerOnly(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 10))

	_, err := h.raffle.RecoverAsset(h.ctx, account(0), h.stakeTok, account(0))
	require.ErrorIs(t, err, ErrUnauthorized)

	amount, err := h.raffle.RecoverAsset(h.ctx, ownerAddr, h.stakeTok, ownerAddr)
	require.NoError(t, err)
	require.Equal(t, "10000000000000000", amount.Dec())

	amount, err = h.raffle.RecoverNative(h.ctx, ownerAddr, ownerAddr)
	require.NoError(t, err)
	require.True(t, amount.IsZero())
}

func TestRaffleSnapshotRestore(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(0), 30))
	require.NoError(t, h.raffle.BuyTickets(h.ctx, account(1), 4))
	id, err := h.raffle.RequestRandomness(h.ctx, 0)
	require.NoError(t, err)

	restored, err := New(raffleAddr, ownerAddr, testConfig(), h.ledger, Assets{Stake: h.stakeTok, Sale: h.saleTok}, h.rng)
	require.NoError(t, err)
	restored.SetNowFunc(h.clock)
	require.NoError(t, restored.Restore(h.raffle.Snapshot()))

	require.Equal(t, uint64(34), restored.TicketsSold())
	require.Equal(t, uint64(4), restored.TicketCount(account(1)))
	require.Equal(t, PhaseOpen, restored.Phase())
	draws := restored.PendingDraws()
	require.Len(t, draws, 1)
	require.Equal(t, PendingDraw{Pool: 0, RequestID: id, Seed: restored.seed(0)}, draws[0])
	require.NoError(t, restored.FulfillRandomness(h.ctx, oracleAddr, id, uint256.NewInt(1)))
	pool, _ := restored.Pool(0)
	require.Equal(t, account(0), pool.Winner)
	require.Empty(t, restored.PendingDraws())
}
