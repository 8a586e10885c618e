package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"launchpad.org/internal/events"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndList(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	sale := common.Address{0x5a}
	alice := common.Address{0xa1}
	bob := common.Address{0xb0}

	j.Emit(events.Staked{Account: alice, Amount: uint256.NewInt(5), Total: uint256.NewInt(5)})
	j.Emit(events.SaleRegistered{Sale: sale, Account: alice, Tier: 2})
	j.Emit(events.SaleRegistered{Sale: sale, Account: bob, Tier: 1})

	n, err := j.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count=%d err=%v", n, err)
	}

	all, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Type != events.TypeStaked {
		t.Fatalf("unexpected records %+v", all)
	}
	if all[0].Attributes["amount"] != "5" {
		t.Fatalf("attributes not round-tripped: %v", all[0].Attributes)
	}

	regs, err := j.List(ctx, Filter{Instance: sale.Hex()})
	if err != nil || len(regs) != 2 {
		t.Fatalf("instance filter: %d %v", len(regs), err)
	}
	mine, err := j.List(ctx, Filter{Account: alice.Hex(), Type: events.TypeSaleRegistered})
	if err != nil || len(mine) != 1 || mine[0].Attributes["tier"] != "2" {
		t.Fatalf("account filter: %+v %v", mine, err)
	}
	rest, err := j.List(ctx, Filter{After: all[0].ID})
	if err != nil || len(rest) != 2 {
		t.Fatalf("after filter: %d %v", len(rest), err)
	}
}

func TestListLimit(t *testing.T) {
	j := openJournal(t)
	for i := 0; i < 5; i++ {
		j.Emit(events.HaltChanged{Halted: i%2 == 0})
	}
	got, err := j.List(context.Background(), Filter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored: %d", len(got))
	}
	if got[0].ID >= got[1].ID {
		t.Fatalf("not ordered: %s %s", got[0].ID, got[1].ID)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
