// Package marketplace is the escrow settlement engine. It takes custody of a listed token on
// behalf of its seller, holds the single price it can be bought at, and exchanges the token
// for a payment split between the seller and the treasury.
//
// Every operation runs as one chain call. Cancel and Buy erase the listing before the first
// call into custody or payments, so a collaborator calling back in sees the listing gone.
package marketplace

import (
	"context"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/fee"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultFeeBps uint64 = 250

type Marketplace interface {
	List(ctx context.Context, caller, collection common.Address, tokenId uint64, price *uint256.Int) error
	CancelListing(ctx context.Context, caller, collection common.Address, tokenId uint64) error
	Buy(ctx context.Context, caller, collection common.Address, tokenId uint64, payment *uint256.Int) error

	SetFee(ctx context.Context, caller common.Address, bps uint64) error
	SetTreasury(ctx context.Context, caller, treasury common.Address) error

	Listing(ctx context.Context, key entity.ListingKey) (entity.Listing, bool)
	Listings(ctx context.Context) []entity.Listing
	Quote(ctx context.Context, price *uint256.Int) (feeAmount, proceeds *uint256.Int, err error)
	State(ctx context.Context) entity.MarketState

	Address() common.Address
	Owner() common.Address
	Treasury(ctx context.Context) common.Address
	FeeBps(ctx context.Context) uint64
}

type Config struct {
	// Address is the identity the marketplace holds custody and funds under.
	Address  common.Address
	Owner    common.Address
	Treasury common.Address
	FeeBps   uint64
}

type marketplace struct {
	chain    *chain.Chain
	custody  Custody
	payments Payments
	observer Observer

	address common.Address
	owner   common.Address

	treasury common.Address
	feeBps   uint64
	listings *registry
}

func New(c *chain.Chain, custody Custody, payments Payments, cfg Config, observer Observer) (Marketplace, error) {
	if err := fee.ValidateRate(cfg.FeeBps); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}

	zap.L().With(
		zap.String("address", cfg.Address.Hex()),
		zap.String("owner", cfg.Owner.Hex()),
		zap.String("treasury", cfg.Treasury.Hex()),
		zap.Uint64("feeBps", cfg.FeeBps),
	).Info("Marketplace: Deployed")

	return &marketplace{
		chain:    c,
		custody:  custody,
		payments: payments,
		observer: observer,
		address:  cfg.Address,
		owner:    cfg.Owner,
		treasury: cfg.Treasury,
		feeBps:   cfg.FeeBps,
		listings: newRegistry(c),
	}, nil
}

func (m *marketplace) List(ctx context.Context, caller, collection common.Address, tokenId uint64, price *uint256.Int) error {
	if price == nil {
		price = new(uint256.Int)
	}
	key := entity.ListingKey{Collection: collection, TokenId: tokenId}

	var listing entity.Listing
	err := m.execute(ctx, "list", key, func(ctx context.Context) error {
		owner, err := m.custody.OwnerOf(ctx, collection, tokenId)
		if err != nil {
			return errors.Wrap(err, "owner lookup failed")
		}
		if owner != caller {
			return revert(ReasonNotOwner, ErrUnauthorized)
		}

		approved, err := m.custody.CanTransfer(ctx, collection, m.address, tokenId)
		if err != nil {
			return errors.Wrap(err, "approval lookup failed")
		}
		if !approved {
			return revert(ReasonNotApproved, ErrNotApproved)
		}

		if err := m.custody.TransferFrom(ctx, collection, m.address, caller, m.address, tokenId); err != nil {
			return errors.Wrap(err, "custody transfer to marketplace failed")
		}

		listing = entity.Listing{Collection: collection, TokenId: tokenId, Seller: caller, Price: price.Clone()}
		m.listings.put(listing)

		m.chain.Emit(ctx, entity.ListedEvent, entity.Listed{
			Collection: collection,
			TokenId:    tokenId,
			Seller:     caller,
			Price:      price.Clone(),
		})

		return nil
	})
	if err == nil && isTopLevel(ctx) {
		m.observer.Listed(listing)
	}

	return err
}

func (m *marketplace) CancelListing(ctx context.Context, caller, collection common.Address, tokenId uint64) error {
	key := entity.ListingKey{Collection: collection, TokenId: tokenId}

	err := m.execute(ctx, "cancel", key, func(ctx context.Context) error {
		listing, ok := m.listings.get(key)
		if !ok || listing.Seller != caller {
			return revert(ReasonNotSeller, ErrUnauthorized)
		}

		m.listings.remove(key)

		if err := m.custody.TransferFrom(ctx, collection, m.address, m.address, listing.Seller, tokenId); err != nil {
			return errors.Wrap(err, "custody return to seller failed")
		}

		m.chain.Emit(ctx, entity.CanceledEvent, entity.Canceled{
			Collection: collection,
			TokenId:    tokenId,
			Seller:     listing.Seller,
		})

		return nil
	})
	if err == nil && isTopLevel(ctx) {
		m.observer.Canceled(key)
	}

	return err
}

func (m *marketplace) Buy(ctx context.Context, caller, collection common.Address, tokenId uint64, payment *uint256.Int) error {
	if payment == nil {
		payment = new(uint256.Int)
	}
	key := entity.ListingKey{Collection: collection, TokenId: tokenId}

	var sale entity.Sold
	err := m.execute(ctx, "buy", key, func(ctx context.Context) error {
		listing, ok := m.listings.get(key)
		if !ok || listing.Price.IsZero() {
			return revert(ReasonNotListed, ErrNotListed)
		}
		if !payment.Eq(listing.Price) {
			return revert(ReasonWrongPrice, ErrPriceMismatch)
		}

		treasury := m.treasury
		feeAmount, proceeds, err := fee.Compute(listing.Price, m.feeBps)
		if err != nil {
			if errors.Is(err, fee.ErrArithmeticOverflow) {
				return revert(ReasonOverflow, fee.ErrArithmeticOverflow)
			}
			return errors.WithMessage(err, "fee computation failed")
		}

		m.listings.remove(key)

		if err := m.payments.Collect(ctx, caller, payment); err != nil {
			return errors.Wrap(err, "payment collection failed")
		}
		if err := m.custody.TransferFrom(ctx, collection, m.address, m.address, caller, tokenId); err != nil {
			return errors.Wrap(err, "custody transfer to buyer failed")
		}
		if err := m.payments.Pay(ctx, listing.Seller, proceeds); err != nil {
			return errors.Wrap(err, "seller payout failed")
		}
		if err := m.payments.Pay(ctx, treasury, feeAmount); err != nil {
			return errors.Wrap(err, "treasury payout failed")
		}

		sale = entity.Sold{
			Collection: collection,
			TokenId:    tokenId,
			Buyer:      caller,
			Price:      listing.Price,
			Seller:     listing.Seller,
			Fee:        feeAmount,
			Proceeds:   proceeds,
			Treasury:   treasury,
		}
		m.chain.Emit(ctx, entity.SoldEvent, sale)

		return nil
	})
	if err == nil && isTopLevel(ctx) {
		m.observer.Sold(sale)
	}

	return err
}

func (m *marketplace) Listing(ctx context.Context, key entity.ListingKey) (listing entity.Listing, listed bool) {
	m.chain.View(ctx, func() {
		listing, listed = m.listings.get(key)
	})

	return listing, listed
}

func (m *marketplace) Listings(ctx context.Context) (listings []entity.Listing) {
	m.chain.View(ctx, func() {
		listings = m.listings.all()
	})

	return listings
}

// Quote splits price at the current fee rate without settling anything.
func (m *marketplace) Quote(ctx context.Context, price *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return fee.Compute(price, m.FeeBps(ctx))
}

func (m *marketplace) State(ctx context.Context) (state entity.MarketState) {
	m.chain.View(ctx, func() {
		state = entity.MarketState{
			Address:  m.address,
			Owner:    m.owner,
			Treasury: m.treasury,
			FeeBps:   m.feeBps,
		}
	})

	return state
}

func (m *marketplace) Address() common.Address {
	return m.address
}

func (m *marketplace) Owner() common.Address {
	return m.owner
}

func (m *marketplace) Treasury(ctx context.Context) (treasury common.Address) {
	m.chain.View(ctx, func() {
		treasury = m.treasury
	})

	return treasury
}

func (m *marketplace) FeeBps(ctx context.Context) (bps uint64) {
	m.chain.View(ctx, func() {
		bps = m.feeBps
	})

	return bps
}

func (m *marketplace) execute(ctx context.Context, operation string, key entity.ListingKey, fn func(ctx context.Context) error) error {
	err := m.chain.Execute(ctx, fn)
	if err == nil {
		return nil
	}

	logger := zap.L().With(
		zap.String("operation", operation),
		zap.String("collection", key.Collection.Hex()),
		zap.Uint64("tokenId", key.TokenId),
		zap.Int("depth", chain.Depth(ctx)+1),
		zap.Error(err),
	)
	if reason := Reason(err); reason != "" {
		logger.Warn("Marketplace: Call rejected")
	} else {
		logger.Error("Marketplace: Call failed")
	}

	if isTopLevel(ctx) {
		m.observer.Rejected(operation, err)
	}

	return err
}

func isTopLevel(ctx context.Context) bool {
	return chain.Depth(ctx) < 0
}
