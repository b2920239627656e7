package marketplace

import (
	"context"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody is the asset registry the marketplace verifies and moves ownership through.
// TransferFrom may call back into the marketplace with the ctx it was given.
type Custody interface {
	OwnerOf(ctx context.Context, collection common.Address, tokenId uint64) (common.Address, error)
	CanTransfer(ctx context.Context, collection, operator common.Address, tokenId uint64) (bool, error)
	TransferFrom(ctx context.Context, collection, operator, from, to common.Address, tokenId uint64) error
}

// Payments moves settlement currency in and out of the marketplace account. Both calls may
// call back into the marketplace with the ctx they were given.
type Payments interface {
	// Collect takes the payment attached to a call from the caller into the marketplace.
	Collect(ctx context.Context, from common.Address, amount *uint256.Int) error
	// Pay sends amount from the marketplace to the recipient.
	Pay(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Observer is told about the outcome of every top-level marketplace call.
type Observer interface {
	Listed(listing entity.Listing)
	Canceled(key entity.ListingKey)
	Sold(sale entity.Sold)
	Rejected(operation string, err error)
}

type nopObserver struct{}

func (nopObserver) Listed(entity.Listing)      {}
func (nopObserver) Canceled(entity.ListingKey) {}
func (nopObserver) Sold(entity.Sold)           {}
func (nopObserver) Rejected(string, error)     {}
