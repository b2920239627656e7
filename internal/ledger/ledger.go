// Package ledger keeps the settlement currency balances of the devnet.
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Receiver is invoked after an account has been credited, while the crediting call is still
// running. Returning an error reverts the call that made the payment.
type Receiver func(ctx context.Context, from common.Address, amount *uint256.Int) error

type Ledger struct {
	chain    *chain.Chain
	balances map[common.Address]*uint256.Int

	hooksMu sync.RWMutex
	hooks   map[common.Address]Receiver
}

func New(c *chain.Chain) *Ledger {
	return &Ledger{
		chain:    c,
		balances: make(map[common.Address]*uint256.Int),
		hooks:    make(map[common.Address]Receiver),
	}
}

// SetReceiver installs the callback run whenever addr is credited. A nil hook removes it.
func (l *Ledger) SetReceiver(addr common.Address, hook Receiver) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()

	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

func (l *Ledger) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return l.chain.Execute(ctx, func(ctx context.Context) error {
		return l.credit(to, amount)
	})
}

func (l *Ledger) BalanceOf(ctx context.Context, addr common.Address) *uint256.Int {
	balance := new(uint256.Int)
	l.chain.View(ctx, func() {
		if b, ok := l.balances[addr]; ok {
			balance.Set(b)
		}
	})

	return balance
}

// Transfer moves amount from one account to another and then runs the recipient's hook.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}

	return l.chain.Execute(ctx, func(ctx context.Context) error {
		if err := l.debit(from, amount); err != nil {
			zap.L().With(
				zap.String("from", from.Hex()),
				zap.String("amount", amount.ToBig().String()),
				zap.String("txId", chain.TxID(ctx)),
			).Debug("Ledger: Insufficient funds")
			return err
		}
		if err := l.credit(to, amount); err != nil {
			return err
		}

		if hook := l.receiver(to); hook != nil {
			return hook(ctx, from, amount.Clone())
		}

		return nil
	})
}

// Account binds the ledger to a single holder, as seen by the marketplace.
func (l *Ledger) Account(holder common.Address) Account {
	return Account{ledger: l, holder: holder}
}

func (l *Ledger) debit(addr common.Address, amount *uint256.Int) error {
	balance, ok := l.balances[addr]
	if !ok {
		balance = new(uint256.Int)
	}
	if balance.Lt(amount) {
		return ErrInsufficientFunds
	}

	l.set(addr, new(uint256.Int).Sub(balance, amount))

	return nil
}

func (l *Ledger) credit(addr common.Address, amount *uint256.Int) error {
	balance, ok := l.balances[addr]
	if !ok {
		balance = new(uint256.Int)
	}

	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	l.set(addr, next)

	return nil
}

func (l *Ledger) set(addr common.Address, balance *uint256.Int) {
	prev, existed := l.balances[addr]
	l.balances[addr] = balance

	l.chain.Journal(func() {
		if existed {
			l.balances[addr] = prev
		} else {
			delete(l.balances, addr)
		}
	})
}

func (l *Ledger) receiver(addr common.Address) Receiver {
	l.hooksMu.RLock()
	defer l.hooksMu.RUnlock()

	return l.hooks[addr]
}

type Account struct {
	ledger *Ledger
	holder common.Address
}

func (a Account) Address() common.Address {
	return a.holder
}

// Collect pulls an attached payment from the payer into the account.
func (a Account) Collect(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return a.ledger.Transfer(ctx, from, a.holder, amount)
}

// Pay sends amount from the account to the recipient.
func (a Account) Pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return a.ledger.Transfer(ctx, a.holder, to, amount)
}
