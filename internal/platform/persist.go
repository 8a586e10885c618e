package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"launchpad.org/internal/asset"
	"launchpad.org/internal/raffle"
	"launchpad.org/internal/sale"
	"launchpad.org/internal/staker"
	"launchpad.org/internal/store/pg"
)

const stakerEntry = "staker"

// StateStore persists platform checkpoints. *pg.Store implements it.
type StateStore interface {
	Save(ctx context.Context, st pg.State) error
	Load(ctx context.Context) ([]pg.Entry, error)
}

func entry(name, kind, addr string, v any) (pg.Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return pg.Entry{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return pg.Entry{Name: name, Kind: kind, Address: addr, State: raw}, nil
}

// State captures every component. Sales and raffles serialize their own
// mutex-guarded state, so the checkpoint is consistent per component only.
func (p *Platform) State() (pg.State, error) {
	var st pg.State
	for _, sym := range p.Symbols() {
		e, err := entry(pg.KindAsset+":"+sym, pg.KindAsset, "", p.tokens[sym].Snapshot())
		if err != nil {
			return pg.State{}, err
		}
		st.Entries = append(st.Entries, e)
	}
	stakeSnap := p.staker.Snapshot()
	e, err := entry(stakerEntry, pg.KindStaker, p.staker.Address().Hex(), stakeSnap)
	if err != nil {
		return pg.State{}, err
	}
	st.Entries = append(st.Entries, e)
	st.Stakes = stakeSnap.Accounts

	for _, inst := range p.instances {
		var snap any
		switch inst.Kind {
		case KindSale:
			snap = p.sales[inst.Name].Snapshot()
		case KindRaffle:
			snap = p.raffles[inst.Name].Snapshot()
		}
		e, err := entry(inst.Kind+":"+inst.Name, inst.Kind, inst.Address.Hex(), snap)
		if err != nil {
			return pg.State{}, err
		}
		st.Entries = append(st.Entries, e)
	}
	return st, nil
}

// Restore applies persisted entries. Entries for components no longer in the
// configuration are skipped with a warning. Pending raffle draws are handed
// back to the oracle.
func (p *Platform) Restore(ctx context.Context, entries []pg.Entry) error {
	for _, e := range entries {
		if err := p.restoreEntry(e); err != nil {
			return fmt.Errorf("restore %s: %w", e.Name, err)
		}
	}
	for _, inst := range p.instances {
		if inst.Kind != KindRaffle {
			continue
		}
		r := p.raffles[inst.Name]
		for _, d := range r.PendingDraws() {
			if err := p.oracle.Resume(r.Address(), d.RequestID, d.Seed); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Platform) restoreEntry(e pg.Entry) error {
	_, name, _ := strings.Cut(e.Name, ":")
	switch e.Kind {
	case pg.KindAsset:
		tok, ok := p.tokens[name]
		if !ok {
			p.log.Warn("skipping snapshot of unknown asset", zap.String("symbol", name))
			return nil
		}
		var snap asset.Snapshot
		if err := json.Unmarshal(e.State, &snap); err != nil {
			return err
		}
		return tok.Restore(snap)
	case pg.KindStaker:
		var snap staker.Snapshot
		if err := json.Unmarshal(e.State, &snap); err != nil {
			return err
		}
		return p.staker.Restore(snap)
	case pg.KindSale:
		s, ok := p.sales[name]
		if !ok {
			p.log.Warn("skipping snapshot of unknown sale", zap.String("name", name))
			return nil
		}
		var snap sale.Snapshot
		if err := json.Unmarshal(e.State, &snap); err != nil {
			return err
		}
		return s.Restore(snap)
	case pg.KindRaffle:
		r, ok := p.raffles[name]
		if !ok {
			p.log.Warn("skipping snapshot of unknown raffle", zap.String("name", name))
			return nil
		}
		var snap raffle.Snapshot
		if err := json.Unmarshal(e.State, &snap); err != nil {
			return err
		}
		return r.Restore(snap)
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
}

// Checkpoint saves the current state to store.
func (p *Platform) Checkpoint(ctx context.Context, store StateStore) error {
	st, err := p.State()
	if err != nil {
		return err
	}
	return store.Save(ctx, st)
}

// LoadFrom restores the last checkpoint. It reports false when the store is
// empty.
func (p *Platform) LoadFrom(ctx context.Context, store StateStore) (bool, error) {
	entries, err := store.Load(ctx)
	if errors.Is(err, pg.ErrNoState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := p.Restore(ctx, entries); err != nil {
		return false, err
	}
	return true, nil
}

// RunCheckpoints saves state every interval until ctx ends, then writes a
// final checkpoint with a fresh context.
func (p *Platform) RunCheckpoints(ctx context.Context, store StateStore, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.Checkpoint(final, store)
			cancel()
			if err != nil {
				p.log.Error("final checkpoint failed", zap.Error(err))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := p.Checkpoint(ctx, store); err != nil {
				p.log.Warn("checkpoint failed", zap.Error(err))
			}
		}
	}
}
