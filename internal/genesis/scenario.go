package genesis

import (
	"context"
	"fmt"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	OpApprove     = "approve"
	OpApproveAll  = "approveAll"
	OpList        = "list"
	OpCancel      = "cancel"
	OpBuy         = "buy"
	OpSetFee      = "setFee"
	OpSetTreasury = "setTreasury"
)

var (
	ErrUnknownOp        = errors.New("unknown step")
	ErrUnexpectedResult = errors.New("unexpected step result")
)

// Step is one call made by Caller. Spender defaults to the marketplace for approvals.
// ExpectError holds the revert reason the call must fail with, if any.
type Step struct {
	Op          string `yaml:"op"`
	Caller      string `yaml:"caller"`
	Collection  string `yaml:"collection"`
	TokenId     uint64 `yaml:"tokenId"`
	Price       string `yaml:"price"`
	Spender     string `yaml:"spender"`
	Approved    *bool  `yaml:"approved"`
	FeeBps      uint64 `yaml:"feeBps"`
	Treasury    string `yaml:"treasury"`
	ExpectError string `yaml:"expectError"`
}

func (s Step) String() string {
	if s.Collection == "" {
		return fmt.Sprintf("%s by %s", s.Op, s.Caller)
	}

	return fmt.Sprintf("%s %s/%d by %s", s.Op, s.Collection, s.TokenId, s.Caller)
}

type Result struct {
	Index  int
	Step   Step
	Reason string
	Err    error
}

// Run replays the steps against d in order and stops at the first step whose outcome does not
// match its expectation.
func (g *Genesis) Run(ctx context.Context, d *Devnet) ([]Result, error) {
	results := make([]Result, 0, len(g.Steps))

	for idx, step := range g.Steps {
		err := g.apply(ctx, d, step)
		result := Result{Index: idx, Step: step, Reason: marketplace.Reason(err), Err: err}
		results = append(results, result)

		if err := expect(step, result); err != nil {
			zap.L().With(zap.Int("step", idx), zap.String("op", step.Op), zap.Error(err)).Warn("Genesis: Scenario failed")
			return results, errors.Wrapf(err, "step %d (%s)", idx, step)
		}

		zap.L().With(
			zap.Int("step", idx),
			zap.String("op", step.Op),
			zap.String("reason", result.Reason),
		).Debug("Genesis: Step applied")
	}

	return results, nil
}

func expect(step Step, result Result) error {
	if step.ExpectError == "" {
		if result.Err != nil {
			return errors.Wrapf(ErrUnexpectedResult, "call failed: %v", result.Err)
		}
		return nil
	}

	if result.Err == nil {
		return errors.Wrapf(ErrUnexpectedResult, "expected %q, call succeeded", step.ExpectError)
	}
	if result.Reason != step.ExpectError && result.Err.Error() != step.ExpectError {
		return errors.Wrapf(ErrUnexpectedResult, "expected %q, got %q", step.ExpectError, result.Err.Error())
	}

	return nil
}

func (g *Genesis) apply(ctx context.Context, d *Devnet, step Step) error {
	caller, err := g.Resolve(step.Caller)
	if err != nil {
		return err
	}

	switch step.Op {
	case OpApprove, OpApproveAll:
		col, err := g.Resolve(step.Collection)
		if err != nil {
			return err
		}
		spender := d.Market.Address()
		if step.Spender != "" {
			if spender, err = g.Resolve(step.Spender); err != nil {
				return err
			}
		}
		if step.Op == OpApprove {
			return d.Collections.Approve(ctx, col, caller, spender, step.TokenId)
		}
		approved := step.Approved == nil || *step.Approved
		return d.Collections.SetApprovalForAll(ctx, col, caller, spender, approved)

	case OpList:
		col, price, err := g.listingArgs(step, d.Decimals)
		if err != nil {
			return err
		}
		return d.Market.List(ctx, caller, col, step.TokenId, price)

	case OpBuy:
		col, price, err := g.listingArgs(step, d.Decimals)
		if err != nil {
			return err
		}
		return d.Market.Buy(ctx, caller, col, step.TokenId, price)

	case OpCancel:
		col, err := g.Resolve(step.Collection)
		if err != nil {
			return err
		}
		return d.Market.CancelListing(ctx, caller, col, step.TokenId)

	case OpSetFee:
		return d.Market.SetFee(ctx, caller, step.FeeBps)

	case OpSetTreasury:
		treasury, err := g.Resolve(step.Treasury)
		if err != nil {
			return err
		}
		return d.Market.SetTreasury(ctx, caller, treasury)
	}

	return errors.Wrapf(ErrUnknownOp, "%q", step.Op)
}

func (g *Genesis) listingArgs(step Step, decimals int32) (col common.Address, price *uint256.Int, err error) {
	addr, err := g.Resolve(step.Collection)
	if err != nil {
		return col, nil, err
	}
	price, err = entity.ParseAmount(defaultAmount(step.Price), decimals)
	if err != nil {
		return col, nil, errors.Wrapf(err, "price %q", step.Price)
	}

	return addr, price, nil
}
