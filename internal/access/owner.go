// Package access holds the owner identity shared by the administrative
// operations of the stake ledger, sales and raffles.
package access

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("access: unauthorized")

// Owner is the single administrative identity of an instance. There is no
// transfer of ownership.
type Owner struct {
	addr common.Address
}

func NewOwner(addr common.Address) Owner { return Owner{addr: addr} }

func (o Owner) Owner() common.Address { return o.addr }

// Check returns ErrUnauthorized unless caller is the owner. A zero owner
// authorizes nobody.
func (o Owner) Check(caller common.Address) error {
	if o.addr == (common.Address{}) || caller != o.addr {
		return ErrUnauthorized
	}
	return nil
}

// IsOwner reports whether caller is the owner.
func (o Owner) IsOwner(caller common.Address) bool { return o.Check(caller) == nil }
