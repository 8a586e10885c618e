// Package vrf provides an in-process randomness oracle. Requests are accepted
// synchronously and fulfilled later by a worker that signs each request id with
// the oracle key.
package vrf

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"launchpad.org/internal/obs"
)

var (
	ErrUnknownConsumer = errors.New("vrf: unknown consumer")
	ErrUnknownRequest  = errors.New("vrf: unknown request")
)

// Consumer receives fulfilled randomness. from is the coordinator address.
type Consumer interface {
	FulfillRandomness(ctx context.Context, from common.Address, requestID common.Hash, value *uint256.Int) error
}

// Request is a randomness request and, once delivered, its proof.
type Request struct {
	ID          common.Hash    `json:"id"`
	Consumer    common.Address `json:"consumer"`
	Seed        common.Hash    `json:"seed"`
	RequestedAt time.Time      `json:"requestedAt"`
	Proof       []byte         `json:"proof,omitempty"`
	Value       *uint256.Int   `json:"value,omitempty"`
	FulfilledAt *time.Time     `json:"fulfilledAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelay holds every request for at least d before fulfillment.
func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.delay = d }
}

// WithPollInterval sets how often Run rescans delayed requests.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

type Coordinator struct {
	key     *ecdsa.PrivateKey
	address common.Address
	keyHash common.Hash
	delay   time.Duration
	poll    time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	consumers map[common.Address]Consumer
	requests  map[common.Hash]*Request
	pending   []common.Hash
	nonce     uint64
	wake      chan struct{}
}

// NewCoordinator creates a coordinator signing with key. Its address is the
// key's ethereum address.
func NewCoordinator(key *ecdsa.PrivateKey, opts ...Option) (*Coordinator, error) {
	if key == nil {
		return nil, errors.New("vrf: key is required")
	}
	c := &Coordinator{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		keyHash:   KeyHash(&key.PublicKey),
		poll:      time.Second,
		log:       obs.Logger(),
		now:       time.Now,
		consumers: make(map[common.Address]Consumer),
		requests:  make(map[common.Hash]*Request),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "vrf"), zap.String("oracle", c.address.Hex()))
	return c, nil
}

func (c *Coordinator) Address() common.Address { return c.address }

func (c *Coordinator) PublicKey() *ecdsa.PublicKey { return &c.key.PublicKey }

func (c *Coordinator) KeyHash() common.Hash { return c.keyHash }

// Register allows addr to request randomness; fulfillments go to consumer.
func (c *Coordinator) Register(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	c.consumers[addr] = consumer
	c.mu.Unlock()
}

// RequestRandomness queues a request and returns its id. The id commits to the
// oracle key, the consumer, the seed and a per-coordinator nonce.
func (c *Coordinator) RequestRandomness(ctx context.Context, consumer common.Address, seed common.Hash) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	if _, ok := c.consumers[consumer]; !ok {
		c.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownConsumer, consumer.Hex())
	}
	c.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], c.nonce)
	id := crypto.Keccak256Hash(c.keyHash.Bytes(), consumer.Bytes(), seed.Bytes(), nonce[:])
	c.requests[id] = &Request{ID: id, Consumer: consumer, Seed: seed, RequestedAt: c.now()}
	c.pending = append(c.pending, id)
	depth := len(c.pending)
	c.mu.Unlock()

	obs.SetPendingRandomness(depth)
	c.log.Info("randomness requested", zap.String("request_id", id.Hex()), zap.String("consumer", consumer.Hex()))
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Resume queues a request issued before a restart under its original id.
// Known ids are ignored.
func (c *Coordinator) Resume(consumer common.Address, id, seed common.Hash) error {
	c.mu.Lock()
	if _, ok := c.consumers[consumer]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConsumer, consumer.Hex())
	}
	if _, ok := c.requests[id]; ok {
		c.mu.Unlock()
		return nil
	}
	c.requests[id] = &Request{ID: id, Consumer: consumer, Seed: seed, RequestedAt: c.now()}
	c.pending = append(c.pending, id)
	depth := len(c.pending)
	c.mu.Unlock()

	obs.SetPendingRandomness(depth)
	c.log.Info("randomness request resumed", zap.String("request_id", id.Hex()), zap.String("consumer", consumer.Hex()))
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run fulfills requests until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		c.FulfillPending(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

// FulfillPending delivers every request whose delay has elapsed and returns the
// number delivered. Consumer rejections are logged and recorded on the request;
// they are not retried.
func (c *Coordinator) FulfillPending(ctx context.Context) int {
	due := c.takeDue()
	delivered := 0
	for _, req := range due {
		if ctx.Err() != nil {
			c.requeue(req.ID)
			continue
		}
		if c.fulfill(ctx, req) {
			delivered++
		}
	}
	return delivered
}

func (c *Coordinator) takeDue() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var due []Request
	kept := c.pending[:0]
	for _, id := range c.pending {
		req := c.requests[id]
		if now.Sub(req.RequestedAt) >= c.delay {
			due = append(due, *req)
			continue
		}
		kept = append(kept, id)
	}
	c.pending = kept
	obs.SetPendingRandomness(len(kept))
	return due
}

func (c *Coordinator) requeue(id common.Hash) {
	c.mu.Lock()
	c.pending = append(c.pending, id)
	c.mu.Unlock()
}

func (c *Coordinator) fulfill(ctx context.Context, req Request) bool {
	logger := c.log.With(zap.String("request_id", req.ID.Hex()), zap.String("consumer", req.Consumer.Hex()))

	proof, value, err := Prove(c.key, req.ID)
	if err != nil {
		logger.Error("randomness proof failed", zap.Error(err))
		c.record(req.ID, nil, nil, err)
		obs.ObserveFulfillment(false)
		return false
	}

	c.mu.Lock()
	consumer := c.consumers[req.Consumer]
	c.mu.Unlock()
	if consumer == nil {
		err = ErrUnknownConsumer
	} else {
		err = consumer.FulfillRandomness(ctx, c.address, req.ID, value)
	}
	c.record(req.ID, proof, value, err)
	obs.ObserveFulfillment(err == nil)
	if err != nil {
		logger.Warn("randomness rejected by consumer", zap.Error(err))
		return false
	}
	logger.Info("randomness fulfilled", zap.String("value", value.Hex()))
	return true
}

func (c *Coordinator) record(id common.Hash, proof []byte, value *uint256.Int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.requests[id]
	now := c.now()
	req.Proof = proof
	req.Value = value
	req.FulfilledAt = &now
	if err != nil {
		req.Error = err.Error()
	}
}

// Request returns a copy of the request with id.
func (c *Coordinator) Request(id common.Hash) (Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.requests[id]
	if !ok {
		return Request{}, ErrUnknownRequest
	}
	out := *req
	out.Proof = append([]byte(nil), req.Proof...)
	if req.Value != nil {
		out.Value = req.Value.Clone()
	}
	return out, nil
}

// Pending returns the ids still waiting for fulfillment, sorted.
func (c *Coordinator) Pending() []common.Hash {
	c.mu.Lock()
	out := append([]common.Hash(nil), c.pending...)
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
