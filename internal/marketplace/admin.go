package marketplace

import (
	"context"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/fee"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SetFee changes the rate applied to every sale settled from now on, including sales of
// existing listings.
func (m *marketplace) SetFee(ctx context.Context, caller common.Address, bps uint64) error {
	return m.executeAdmin(ctx, "setFee", func(ctx context.Context) error {
		if caller != m.owner {
			return revert(ReasonNotOwner, ErrUnauthorized)
		}
		if err := fee.ValidateRate(bps); err != nil {
			return err
		}

		prev := m.feeBps
		m.feeBps = bps
		m.chain.Journal(func() { m.feeBps = prev })

		zap.L().With(zap.Uint64("from", prev), zap.Uint64("to", bps)).Info("Marketplace: Fee updated")

		return nil
	})
}

// SetTreasury changes the fee recipient. The zero address is accepted.
func (m *marketplace) SetTreasury(ctx context.Context, caller, treasury common.Address) error {
	return m.executeAdmin(ctx, "setTreasury", func(ctx context.Context) error {
		if caller != m.owner {
			return revert(ReasonNotOwner, ErrUnauthorized)
		}

		prev := m.treasury
		m.treasury = treasury
		m.chain.Journal(func() { m.treasury = prev })

		zap.L().With(zap.String("from", prev.Hex()), zap.String("to", treasury.Hex())).Info("Marketplace: Treasury updated")

		return nil
	})
}

func (m *marketplace) executeAdmin(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := m.chain.Execute(ctx, fn)
	if err != nil {
		zap.L().With(zap.String("operation", operation), zap.Error(err)).Warn("Marketplace: Call rejected")
		if isTopLevel(ctx) {
			m.observer.Rejected(operation, err)
		}
	}

	return err
}
