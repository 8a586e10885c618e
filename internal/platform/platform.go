// Package platform assembles a launchpad from configuration: the asset
// ledgers, the stake ledger, every sale and raffle instance, and the
// randomness oracle they draw from.
package platform

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"launchpad.org/internal/asset"
	"launchpad.org/internal/config"
	"launchpad.org/internal/events"
	"launchpad.org/internal/obs"
	"launchpad.org/internal/raffle"
	"launchpad.org/internal/sale"
	"launchpad.org/internal/staker"
	"launchpad.org/internal/vrf"
)

var (
	ErrNoOwner         = errors.New("platform: owner is required")
	ErrUnknownSymbol   = errors.New("platform: unknown asset symbol")
	ErrUnknownInstance = errors.New("platform: unknown instance")
)

const (
	KindSale   = "sale"
	KindRaffle = "raffle"
)

// Instance identifies a deployed sale or raffle.
type Instance struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Address common.Address `json:"address"`
}

// Options carries dependencies that do not come from the config file.
type Options struct {
	// Emitters receive every engine event in order.
	Emitters []events.Emitter
	// OracleKey overrides the configured oracle key.
	OracleKey *ecdsa.PrivateKey
	// Now overrides the unix-seconds clock of every engine.
	Now        func() int64
	VRFOptions []vrf.Option
	Logger     *zap.Logger
}

type Platform struct {
	owner    common.Address
	decimals uint8
	unit     *uint256.Int
	log      *zap.Logger

	emitter *events.Fanout
	tokens  map[string]*asset.Ledger
	stake   *asset.Ledger
	native  *asset.Ledger
	staker  *staker.Ledger
	oracle  *vrf.Coordinator

	instances []Instance
	sales     map[string]*sale.Sale
	raffles   map[string]*raffle.Raffle
	byAddress map[common.Address]Instance
	nonce     uint64
}

// New deploys everything cfg describes. Instances with a non-zero Start are
// initialized on the spot.
func New(ctx context.Context, cfg config.PlatformConfig, opts Options) (*Platform, error) {
	if !common.IsHexAddress(cfg.Owner) {
		return nil, ErrNoOwner
	}
	owner := common.HexToAddress(cfg.Owner)
	if owner == (common.Address{}) {
		return nil, ErrNoOwner
	}
	log := opts.Logger
	if log == nil {
		log = obs.Logger()
	}
	p := &Platform{
		owner:     owner,
		decimals:  cfg.Decimals,
		unit:      new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(cfg.Decimals))),
		log:       log.With(zap.String("component", "platform")),
		emitter:   events.NewFanout(opts.Emitters...),
		tokens:    make(map[string]*asset.Ledger),
		sales:     make(map[string]*sale.Sale),
		raffles:   make(map[string]*raffle.Raffle),
		byAddress: make(map[common.Address]Instance),
	}
	p.stake = p.token(cfg.StakeSymbol)
	p.native = p.token(cfg.NativeSymbol)

	key := opts.OracleKey
	if key == nil {
		var err error
		if key, err = oracleKey(cfg.OracleKey); err != nil {
			return nil, err
		}
		if cfg.OracleKey == "" {
			p.log.Warn("no oracle key configured; generated an ephemeral one")
		}
	}
	vrfOpts := append([]vrf.Option{vrf.WithDelay(cfg.OracleDelay), vrf.WithLogger(log)}, opts.VRFOptions...)
	oracle, err := vrf.NewCoordinator(key, vrfOpts...)
	if err != nil {
		return nil, err
	}
	p.oracle = oracle

	p.staker = staker.New(p.nextAddress(), owner, p.stake, staker.Config{HaltBlocksUnstake: cfg.HaltBlocksUnstake})
	p.staker.SetEmitter(p.emitter)
	p.staker.SetNowFunc(opts.Now)

	for _, g := range cfg.Genesis {
		if err := p.mintGenesis(ctx, g); err != nil {
			return nil, err
		}
	}
	for _, sc := range cfg.Sales {
		if err := p.deploySale(ctx, sc, opts.Now); err != nil {
			return nil, fmt.Errorf("deploy sale %q: %w", sc.Name, err)
		}
	}
	for _, rc := range cfg.Raffles {
		if err := p.deployRaffle(ctx, rc, opts.Now); err != nil {
			return nil, fmt.Errorf("deploy raffle %q: %w", rc.Name, err)
		}
	}
	p.log.Info("platform ready",
		zap.String("owner", owner.Hex()),
		zap.String("staker", p.staker.Address().Hex()),
		zap.String("oracle", oracle.Address().Hex()),
		zap.Int("instances", len(p.instances)))
	return p, nil
}

func oracleKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("platform: oracle key: %w", err)
	}
	return key, nil
}

// nextAddress derives instance addresses the way contract deployment does,
// from the owner and a deploy nonce.
func (p *Platform) nextAddress() common.Address {
	addr := crypto.CreateAddress(p.owner, p.nonce)
	p.nonce++
	return addr
}

func (p *Platform) token(symbol string) *asset.Ledger {
	if t, ok := p.tokens[symbol]; ok {
		return t
	}
	t := asset.NewLedger(symbol)
	p.tokens[symbol] = t
	return t
}

func (p *Platform) amount(s string) (*uint256.Int, error) {
	return asset.ParseUnits(s, p.decimals)
}

func (p *Platform) mintGenesis(ctx context.Context, g config.Allocation) error {
	tok, ok := p.tokens[g.Symbol]
	if !ok {
		return fmt.Errorf("%w: genesis %q", ErrUnknownSymbol, g.Symbol)
	}
	amt, err := p.amount(g.Amount)
	if err != nil {
		return fmt.Errorf("genesis %s for %s: %w", g.Symbol, g.Account, err)
	}
	return tok.Mint(ctx, common.HexToAddress(g.Account), amt)
}

func (p *Platform) deploySale(ctx context.Context, sc config.SaleConfig, now func() int64) error {
	var cfg sale.Config
	var err error
	if cfg.TotalUnits, err = p.amount(sc.TotalUnits); err != nil {
		return err
	}
	if cfg.PricePerUnit, err = p.amount(sc.PricePerUnit); err != nil {
		return err
	}
	cfg.UnitSize = p.unit.Clone()
	if len(sc.Thresholds) != sale.NumTiers || len(sc.WeightsBps) != sale.NumTiers {
		return fmt.Errorf("%w: need %d tiers", sale.ErrInvalidConfig, sale.NumTiers)
	}
	for i := range cfg.Thresholds {
		if cfg.Thresholds[i], err = p.amount(sc.Thresholds[i]); err != nil {
			return err
		}
		cfg.WeightsBps[i] = sc.WeightsBps[i]
	}
	cfg.RegistrationDuration = sc.RegistrationDuration
	cfg.SaleGap = sc.SaleGap
	cfg.SaleDuration = sc.SaleDuration
	cfg.LockGrace = sc.LockGrace

	saleTok := p.token(sc.SaleSymbol)
	s, err := sale.New(p.nextAddress(), p.owner, cfg, p.staker, saleTok, p.native)
	if err != nil {
		return err
	}
	s.SetEmitter(p.emitter)
	s.SetNowFunc(now)
	if err := p.attach(ctx, Instance{Name: sc.Name, Kind: KindSale, Address: s.Address()}, saleTok, cfg.TotalUnits); err != nil {
		return err
	}
	p.sales[sc.Name] = s
	if sc.Start != 0 {
		return s.Initialize(ctx, p.owner, sc.Start)
	}
	return nil
}

func (p *Platform) deployRaffle(ctx context.Context, rc config.RaffleConfig, now func() int64) error {
	var cfg raffle.Config
	var err error
	if cfg.TotalUnits, err = p.amount(rc.TotalUnits); err != nil {
		return err
	}
	if cfg.TotalPrice, err = p.amount(rc.TotalPrice); err != nil {
		return err
	}
	if rc.MinStake != "" {
		if cfg.MinStake, err = p.amount(rc.MinStake); err != nil {
			return err
		}
	}
	cfg.UnitSize = p.unit.Clone()
	cfg.PoolCapacity = rc.PoolCapacity
	cfg.TicketWindow = rc.TicketWindow

	saleTok := p.token(rc.SaleSymbol)
	assets := raffle.Assets{Stake: p.stake, Sale: saleTok, Native: p.native}
	r, err := raffle.New(p.nextAddress(), p.owner, cfg, p.staker, assets, p.oracle)
	if err != nil {
		return err
	}
	r.SetEmitter(p.emitter)
	r.SetNowFunc(now)
	p.oracle.Register(r.Address(), r)
	if err := p.attach(ctx, Instance{Name: rc.Name, Kind: KindRaffle, Address: r.Address()}, saleTok, cfg.TotalUnits); err != nil {
		return err
	}
	p.raffles[rc.Name] = r
	if rc.Start != 0 {
		return r.Initialize(ctx, p.owner, rc.Start)
	}
	return nil
}

// attach grants the instance locker rights and funds its offer.
func (p *Platform) attach(ctx context.Context, inst Instance, offered *asset.Ledger, units *uint256.Int) error {
	if err := p.staker.AddLocker(ctx, p.owner, inst.Address); err != nil {
		return err
	}
	if err := offered.Mint(ctx, inst.Address, units); err != nil {
		return err
	}
	p.instances = append(p.instances, inst)
	p.byAddress[inst.Address] = inst
	return nil
}

func (p *Platform) Owner() common.Address { return p.owner }

func (p *Platform) Decimals() uint8 { return p.decimals }

func (p *Platform) Staker() *staker.Ledger { return p.staker }

func (p *Platform) Oracle() *vrf.Coordinator { return p.oracle }

func (p *Platform) StakeToken() *asset.Ledger { return p.stake }

func (p *Platform) NativeToken() *asset.Ledger { return p.native }

// AddEmitter subscribes e to every engine event.
func (p *Platform) AddEmitter(e events.Emitter) { p.emitter.Add(e) }

// Token returns the ledger for symbol.
func (p *Platform) Token(symbol string) (*asset.Ledger, error) {
	t, ok := p.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return t, nil
}

// Symbols lists every asset symbol, sorted.
func (p *Platform) Symbols() []string {
	out := make([]string, 0, len(p.tokens))
	for s := range p.tokens {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Instances lists sales and raffles in deploy order.
func (p *Platform) Instances() []Instance {
	return append([]Instance(nil), p.instances...)
}

// InstanceAt resolves a deployed address.
func (p *Platform) InstanceAt(addr common.Address) (Instance, bool) {
	inst, ok := p.byAddress[addr]
	return inst, ok
}

func (p *Platform) Sale(name string) (*sale.Sale, error) {
	s, ok := p.sales[name]
	if !ok {
		return nil, fmt.Errorf("%w: sale %q", ErrUnknownInstance, name)
	}
	return s, nil
}

func (p *Platform) Raffle(name string) (*raffle.Raffle, error) {
	r, ok := p.raffles[name]
	if !ok {
		return nil, fmt.Errorf("%w: raffle %q", ErrUnknownInstance, name)
	}
	return r, nil
}

// Units converts a decimal token string with the platform's decimals.
func (p *Platform) Units(s string) (*uint256.Int, error) { return p.amount(s) }
