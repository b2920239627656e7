// Package collection is an in-memory registry of non-fungible token collections following
// the ERC-721 ownership and approval rules. It is the custody side the marketplace moves
// tokens through.
package collection

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrCollectionExists  = errors.New("collection already deployed")
	ErrUnknownToken      = errors.New("invalid token id")
	ErrTokenExists       = errors.New("token already minted")
	ErrNotAuthorized     = errors.New("caller is not token owner or approved")
	ErrIncorrectOwner    = errors.New("transfer from incorrect owner")
	ErrZeroAddress       = errors.New("zero address")
	ErrSelfApproval      = errors.New("approve to caller")
)

// Receiver is invoked after a token has been transferred to the hooked address, while the
// transferring call is still running. Returning an error reverts the transfer.
type Receiver func(ctx context.Context, collection, operator, from common.Address, tokenId uint64) error

type Collection struct {
	Address common.Address
	Name    string
	Symbol  string

	owners    map[uint64]common.Address
	approved  map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
	balances  map[common.Address]uint64
}

type Registry struct {
	chain       *chain.Chain
	collections map[common.Address]*Collection

	hooksMu sync.RWMutex
	hooks   map[common.Address]Receiver
}

func NewRegistry(c *chain.Chain) *Registry {
	return &Registry{
		chain:       c,
		collections: make(map[common.Address]*Collection),
		hooks:       make(map[common.Address]Receiver),
	}
}

// SetReceiver installs the callback run whenever a token is transferred to addr. A nil hook removes it.
func (r *Registry) SetReceiver(addr common.Address, hook Receiver) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()

	if hook == nil {
		delete(r.hooks, addr)
		return
	}
	r.hooks[addr] = hook
}

func (r *Registry) Deploy(ctx context.Context, address common.Address, name, symbol string) error {
	return r.chain.Execute(ctx, func(ctx context.Context) error {
		if address == (common.Address{}) {
			return ErrZeroAddress
		}
		if _, exists := r.collections[address]; exists {
			return ErrCollectionExists
		}

		r.collections[address] = &Collection{
			Address:   address,
			Name:      name,
			Symbol:    symbol,
			owners:    make(map[uint64]common.Address),
			approved:  make(map[uint64]common.Address),
			operators: make(map[common.Address]map[common.Address]bool),
			balances:  make(map[common.Address]uint64),
		}
		r.chain.Journal(func() { delete(r.collections, address) })

		zap.L().With(zap.String("collection", address.Hex()), zap.String("symbol", symbol)).Debug("Collection: Deployed")

		return nil
	})
}

func (r *Registry) Mint(ctx context.Context, collection, to common.Address, tokenId uint64) error {
	return r.chain.Execute(ctx, func(ctx context.Context) error {
		c, err := r.get(collection)
		if err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if _, exists := c.owners[tokenId]; exists {
			return ErrTokenExists
		}

		r.setOwner(c, tokenId, to)
		r.setBalance(c, to, c.balances[to]+1)

		return nil
	})
}

// Approve grants spender the right to transfer a single token. The token owner or one of its operators may call it.
func (r *Registry) Approve(ctx context.Context, collection, caller, spender common.Address, tokenId uint64) error {
	return r.chain.Execute(ctx, func(ctx context.Context) error {
		c, err := r.get(collection)
		if err != nil {
			return err
		}
		owner, ok := c.owners[tokenId]
		if !ok {
			return ErrUnknownToken
		}
		if caller != owner && !c.operators[owner][caller] {
			return ErrNotAuthorized
		}

		r.setApproved(c, tokenId, spender)

		return nil
	})
}

func (r *Registry) SetApprovalForAll(ctx context.Context, collection, caller, operator common.Address, approved bool) error {
	return r.chain.Execute(ctx, func(ctx context.Context) error {
		c, err := r.get(collection)
		if err != nil {
			return err
		}
		if caller == operator {
			return ErrSelfApproval
		}

		ops, ok := c.operators[caller]
		if !ok {
			ops = make(map[common.Address]bool)
			c.operators[caller] = ops
		}
		prev, existed := ops[operator]
		ops[operator] = approved

		r.chain.Journal(func() {
			if existed {
				ops[operator] = prev
			} else {
				delete(ops, operator)
			}
		})

		return nil
	})
}

func (r *Registry) OwnerOf(ctx context.Context, collection common.Address, tokenId uint64) (owner common.Address, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		var ok bool
		if owner, ok = c.owners[tokenId]; !ok {
			err = ErrUnknownToken
		}
	})

	return owner, err
}

func (r *Registry) GetApproved(ctx context.Context, collection common.Address, tokenId uint64) (spender common.Address, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		if _, ok := c.owners[tokenId]; !ok {
			err = ErrUnknownToken
			return
		}
		spender = c.approved[tokenId]
	})

	return spender, err
}

func (r *Registry) IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (approved bool, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		approved = c.operators[owner][operator]
	})

	return approved, err
}

func (r *Registry) BalanceOf(ctx context.Context, collection, owner common.Address) (balance uint64, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		balance = c.balances[owner]
	})

	return balance, err
}

// TokensOf lists the token ids owned by owner in ascending order.
func (r *Registry) TokensOf(ctx context.Context, collection, owner common.Address) (tokenIds []uint64, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		tokenIds = make([]uint64, 0, c.balances[owner])
		for tokenId, o := range c.owners {
			if o == owner {
				tokenIds = append(tokenIds, tokenId)
			}
		}
	})
	sort.Slice(tokenIds, func(i, j int) bool { return tokenIds[i] < tokenIds[j] })

	return tokenIds, err
}

// CanTransfer reports whether operator may move the token: it owns it, holds the token
// approval, or is an approved operator of the owner.
func (r *Registry) CanTransfer(ctx context.Context, collection, operator common.Address, tokenId uint64) (allowed bool, err error) {
	r.chain.View(ctx, func() {
		var c *Collection
		if c, err = r.get(collection); err != nil {
			return
		}
		owner, ok := c.owners[tokenId]
		if !ok {
			err = ErrUnknownToken
			return
		}
		allowed = isApprovedOrOwner(c, owner, operator, tokenId)
	})

	return allowed, err
}

// TransferFrom moves a token from its owner to a recipient on behalf of operator, clears the
// token approval, then runs the recipient's hook.
func (r *Registry) TransferFrom(ctx context.Context, collection, operator, from, to common.Address, tokenId uint64) error {
	return r.chain.Execute(ctx, func(ctx context.Context) error {
		c, err := r.get(collection)
		if err != nil {
			return err
		}
		owner, ok := c.owners[tokenId]
		if !ok {
			return ErrUnknownToken
		}
		if owner != from {
			return ErrIncorrectOwner
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if !isApprovedOrOwner(c, owner, operator, tokenId) {
			return ErrNotAuthorized
		}

		r.setApproved(c, tokenId, common.Address{})
		r.setBalance(c, from, c.balances[from]-1)
		r.setBalance(c, to, c.balances[to]+1)
		r.setOwner(c, tokenId, to)

		zap.L().With(
			zap.String("collection", collection.Hex()),
			zap.Uint64("tokenId", tokenId),
			zap.String("from", from.Hex()),
			zap.String("to", to.Hex()),
			zap.String("txId", chain.TxID(ctx)),
		).Debug("Collection: Transfer")

		if hook := r.receiver(to); hook != nil {
			return hook(ctx, collection, operator, from, tokenId)
		}

		return nil
	})
}

func isApprovedOrOwner(c *Collection, owner, operator common.Address, tokenId uint64) bool {
	return operator == owner || c.approved[tokenId] == operator || c.operators[owner][operator]
}

func (r *Registry) get(collection common.Address) (*Collection, error) {
	c, ok := r.collections[collection]
	if !ok {
		return nil, ErrUnknownCollection
	}

	return c, nil
}

func (r *Registry) setOwner(c *Collection, tokenId uint64, owner common.Address) {
	prev, existed := c.owners[tokenId]
	c.owners[tokenId] = owner

	r.chain.Journal(func() {
		if existed {
			c.owners[tokenId] = prev
		} else {
			delete(c.owners, tokenId)
		}
	})
}

func (r *Registry) setApproved(c *Collection, tokenId uint64, spender common.Address) {
	prev, existed := c.approved[tokenId]
	if spender == (common.Address{}) {
		delete(c.approved, tokenId)
	} else {
		c.approved[tokenId] = spender
	}

	r.chain.Journal(func() {
		if existed {
			c.approved[tokenId] = prev
		} else {
			delete(c.approved, tokenId)
		}
	})
}

func (r *Registry) setBalance(c *Collection, owner common.Address, balance uint64) {
	prev, existed := c.balances[owner]
	c.balances[owner] = balance

	r.chain.Journal(func() {
		if existed {
			c.balances[owner] = prev
		} else {
			delete(c.balances, owner)
		}
	})
}

func (r *Registry) receiver(addr common.Address) Receiver {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()

	return r.hooks[addr]
}
