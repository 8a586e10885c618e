package vrf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

type recordingConsumer struct {
	mu     sync.Mutex
	from   common.Address
	values map[common.Hash]*uint256.Int
	err    error
}

func (r *recordingConsumer) FulfillRandomness(ctx context.Context, from common.Address, id common.Hash, value *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		r.values = make(map[common.Hash]*uint256.Int)
	}
	r.from = from
	r.values[id] = value
	return nil
}

func (r *recordingConsumer) value(id common.Hash) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[id]
}

var consumerAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")

func newCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCoordinator(key, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func TestProveVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id := common.HexToHash("0x11784bfa961ea00360336b7dfda4504f3e5e01a6035d89a9464ccdf8c73ac1b0")
	proof, value, err := Prove(key, id)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := Verify(&key.PublicKey, id, proof, value); err != nil {
		t.Fatalf("verify: %v", err)
	}
	again, value2, _ := Prove(key, id)
	if !value.Eq(value2) || string(again) != string(proof) {
		t.Fatal("proof must be deterministic")
	}

	if err := Verify(&key.PublicKey, id, proof, new(uint256.Int).AddUint64(value, 1)); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("tampered value accepted: %v", err)
	}
	if err := Verify(&key.PublicKey, common.Hash{0x01}, proof, value); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("foreign request accepted: %v", err)
	}
	other, _ := crypto.GenerateKey()
	if err := Verify(&other.PublicKey, id, proof, value); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("foreign key accepted: %v", err)
	}
}

func TestRequestAndFulfill(t *testing.T) {
	c := newCoordinator(t)
	consumer := &recordingConsumer{}
	c.Register(consumerAddr, consumer)
	ctx := context.Background()

	if _, err := c.RequestRandomness(ctx, common.Address{0x09}, common.Hash{}); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}

	seed := common.Hash{0x42}
	id1, err := c.RequestRandomness(ctx, consumerAddr, seed)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	id2, _ := c.RequestRandomness(ctx, consumerAddr, seed)
	if id1 == id2 {
		t.Fatal("request ids must be unique per request")
	}
	if got := len(c.Pending()); got != 2 {
		t.Fatalf("pending=%d, want 2", got)
	}

	if n := c.FulfillPending(ctx); n != 2 {
		t.Fatalf("delivered %d, want 2", n)
	}
	if consumer.from != c.Address() {
		t.Fatalf("fulfilled from %s, want %s", consumer.from.Hex(), c.Address().Hex())
	}
	req, err := c.Request(id1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := Verify(c.PublicKey(), id1, req.Proof, consumer.value(id1)); err != nil {
		t.Fatalf("delivered value does not verify: %v", err)
	}
	if len(c.Pending()) != 0 {
		t.Fatal("queue should be drained")
	}
}

func TestRejectedFulfillmentIsRecorded(t *testing.T) {
	c := newCoordinator(t)
	c.Register(consumerAddr, &recordingConsumer{err: errors.New("already resolved")})
	ctx := context.Background()

	id, err := c.RequestRandomness(ctx, consumerAddr, common.Hash{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if n := c.FulfillPending(ctx); n != 0 {
		t.Fatalf("delivered %d, want 0", n)
	}
	req, _ := c.Request(id)
	if req.Error == "" || req.FulfilledAt == nil {
		t.Fatalf("rejection not recorded: %+v", req)
	}
}

func TestDelay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newCoordinator(t, WithDelay(time.Minute), WithClock(func() time.Time { return now }))
	consumer := &recordingConsumer{}
	c.Register(consumerAddr, consumer)
	ctx := context.Background()

	id, _ := c.RequestRandomness(ctx, consumerAddr, common.Hash{})
	if n := c.FulfillPending(ctx); n != 0 {
		t.Fatalf("fulfilled before delay: %d", n)
	}
	now = now.Add(time.Minute)
	if n := c.FulfillPending(ctx); n != 1 {
		t.Fatalf("delivered %d after delay, want 1", n)
	}
	if consumer.value(id) == nil {
		t.Fatal("consumer did not receive value")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newCoordinator(t, WithPollInterval(10*time.Millisecond))
	consumer := &recordingConsumer{}
	c.Register(consumerAddr, consumer)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	id, err := c.RequestRandomness(ctx, consumerAddr, common.Hash{0x01})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for consumer.value(id) == nil {
		select {
		case <-deadline:
			t.Fatal("worker did not fulfill request")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestResume(t *testing.T) {
	c := newCoordinator(t)
	consumer := &recordingConsumer{}
	c.Register(consumerAddr, consumer)

	id := common.HexToHash("0x01")
	if err := c.Resume(common.Address{0x09}, id, common.Hash{}); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}
	if err := c.Resume(consumerAddr, id, common.Hash{0x02}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := c.Resume(consumerAddr, id, common.Hash{0x02}); err != nil {
		t.Fatalf("resume twice: %v", err)
	}
	if got := len(c.Pending()); got != 1 {
		t.Fatalf("pending=%d, want 1", got)
	}
	if n := c.FulfillPending(context.Background()); n != 1 || consumer.value(id) == nil {
		t.Fatalf("resumed request not fulfilled: %d", n)
	}
}
