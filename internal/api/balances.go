package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Balances interface {
	BalanceOf(ctx context.Context, addr common.Address) *uint256.Int
}
