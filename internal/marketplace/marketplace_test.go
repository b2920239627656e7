package marketplace

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/collection"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/fee"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deployer = common.HexToAddress("0x000000000000000000000000000000000000d3b1")
	seller   = common.HexToAddress("0x0000000000000000000000000000000000005e11")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	treasury = common.HexToAddress("0x000000000000000000000000000000000000f333")
	other    = common.HexToAddress("0x000000000000000000000000000000000000a7e3")
	market   = common.HexToAddress("0x000000000000000000000000000000000000aa01")
	nft      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	nft2     = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type recordingSink struct {
	mu   sync.Mutex
	logs []chain.Log
}

func (s *recordingSink) Publish(logs []chain.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
}

func (s *recordingSink) last() chain.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[len(s.logs)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

type recordingObserver struct {
	listed   []entity.Listing
	canceled []entity.ListingKey
	sold     []entity.Sold
	rejected []string
}

func (o *recordingObserver) Listed(listing entity.Listing) {
	o.listed = append(o.listed, listing)
}

func (o *recordingObserver) Canceled(key entity.ListingKey) {
	o.canceled = append(o.canceled, key)
}

func (o *recordingObserver) Sold(sale entity.Sold) {
	o.sold = append(o.sold, sale)
}

func (o *recordingObserver) Rejected(operation string, err error) {
	o.rejected = append(o.rejected, operation)
}

type testEnv struct {
	ctx      context.Context
	chain    *chain.Chain
	ledger   *ledger.Ledger
	nfts     *collection.Registry
	market   Marketplace
	sink     *recordingSink
	observer *recordingObserver
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	sink := &recordingSink{}
	c := chain.New(sink)
	l := ledger.New(c)
	nfts := collection.NewRegistry(c)
	observer := &recordingObserver{}

	m, err := New(c, nfts, l.Account(market), Config{
		Address:  market,
		Owner:    deployer,
		Treasury: treasury,
		FeeBps:   DefaultFeeBps,
	}, observer)
	require.NoError(t, err)

	require.NoError(t, nfts.Deploy(ctx, nft, "Mock NFT", "MNFT"))
	require.NoError(t, nfts.Mint(ctx, nft, seller, 1))
	require.NoError(t, l.Mint(ctx, buyer, ether(10)))
	require.NoError(t, l.Mint(ctx, seller, ether(10)))

	return &testEnv{ctx: ctx, chain: c, ledger: l, nfts: nfts, market: m, sink: sink, observer: observer}
}

func (e *testEnv) balance(addr common.Address) *uint256.Int {
	return e.ledger.BalanceOf(e.ctx, addr)
}

func (e *testEnv) ownerOf(t *testing.T, c common.Address, tokenId uint64) common.Address {
	t.Helper()
	owner, err := e.nfts.OwnerOf(e.ctx, c, tokenId)
	require.NoError(t, err)
	return owner
}

func (e *testEnv) approveAndList(t *testing.T, tokenId uint64, price *uint256.Int) {
	t.Helper()
	require.NoError(t, e.nfts.Approve(e.ctx, nft, seller, market, tokenId))
	require.NoError(t, e.market.List(e.ctx, seller, nft, tokenId, price))
}

func assertRevert(t *testing.T, err error, reason string, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	assert.Equal(t, reason, Reason(err))
	assert.EqualError(t, err, reason)
}

func TestDeployment(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, deployer, e.market.Owner())
	assert.Equal(t, treasury, e.market.Treasury(e.ctx))
	assert.Equal(t, uint64(250), e.market.FeeBps(e.ctx))
	assert.Equal(t, market, e.market.Address())
	assert.Equal(t, entity.MarketState{Address: market, Owner: deployer, Treasury: treasury, FeeBps: 250}, e.market.State(e.ctx))
}

func TestDeploymentRejectsFeeOutOfRange(t *testing.T) {
	c := chain.New()
	l := ledger.New(c)

	_, err := New(c, collection.NewRegistry(c), l.Account(market), Config{Address: market, Owner: deployer, FeeBps: 10001}, nil)
	assert.ErrorIs(t, err, fee.ErrRateOutOfRange)
}

func TestListWithTokenApproval(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Approve(e.ctx, nft, seller, market, 1))

	require.NoError(t, e.market.List(e.ctx, seller, nft, 1, ether(1)))

	log := e.sink.last()
	assert.Equal(t, entity.ListedEvent, log.Name)
	listed := log.Data.(entity.Listed)
	assert.Equal(t, nft, listed.Collection)
	assert.Equal(t, uint64(1), listed.TokenId)
	assert.Equal(t, seller, listed.Seller)
	assert.True(t, listed.Price.Eq(ether(1)))

	assert.Equal(t, market, e.ownerOf(t, nft, 1))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.Equal(t, seller, listing.Seller)
	assert.True(t, listing.Price.Eq(ether(1)))

	require.Len(t, e.observer.listed, 1)
	assert.Equal(t, seller, e.observer.listed[0].Seller)
}

func TestListWithOperatorApproval(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.SetApprovalForAll(e.ctx, nft, seller, market, true))

	require.NoError(t, e.market.List(e.ctx, seller, nft, 1, ether(1)))

	assert.Equal(t, entity.ListedEvent, e.sink.last().Name)
	assert.Equal(t, market, e.ownerOf(t, nft, 1))
}

func TestListRejectsNonOwner(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Approve(e.ctx, nft, seller, market, 1))
	events := e.sink.count()

	err := e.market.List(e.ctx, buyer, nft, 1, ether(1))

	assertRevert(t, err, "Not owner", ErrUnauthorized)
	assert.Equal(t, seller, e.ownerOf(t, nft, 1))
	assert.Equal(t, events, e.sink.count())
	assert.Equal(t, []string{"list"}, e.observer.rejected)
}

func TestListRejectsWithoutApproval(t *testing.T) {
	e := newEnv(t)

	err := e.market.List(e.ctx, seller, nft, 1, ether(1))

	assertRevert(t, err, "Not approved", ErrNotApproved)
	assert.Equal(t, seller, e.ownerOf(t, nft, 1))

	_, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	assert.False(t, ok)
}

func TestListRejectsUnknownToken(t *testing.T) {
	e := newEnv(t)

	err := e.market.List(e.ctx, seller, nft, 999, ether(1))

	assert.ErrorIs(t, err, collection.ErrUnknownToken)
	assert.Equal(t, "", Reason(err))
}

func TestListAtZeroPrice(t *testing.T) {
	e := newEnv(t)

	e.approveAndList(t, 1, uint256.NewInt(0))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.True(t, listing.Price.IsZero())
}

func TestListAtVeryHighPrice(t *testing.T) {
	e := newEnv(t)

	e.approveAndList(t, 1, ether(1_000_000))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.True(t, listing.Price.Eq(ether(1_000_000)))
}

func TestCancelListing(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	require.NoError(t, e.market.CancelListing(e.ctx, seller, nft, 1))

	log := e.sink.last()
	assert.Equal(t, entity.CanceledEvent, log.Name)
	assert.Equal(t, entity.Canceled{Collection: nft, TokenId: 1, Seller: seller}, log.Data)
	assert.Equal(t, seller, e.ownerOf(t, nft, 1))

	key := entity.ListingKey{Collection: nft, TokenId: 1}
	listing, ok := e.market.Listing(e.ctx, key)
	assert.False(t, ok)

	view := entity.NewListingView(key, listing, ok)
	assert.Equal(t, common.Address{}.Hex(), view.Seller)
	assert.Equal(t, "0", view.Price)
	assert.Equal(t, []entity.ListingKey{key}, e.observer.canceled)
}

func TestCancelListingRejections(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	assertRevert(t, e.market.CancelListing(e.ctx, buyer, nft, 1), "Not seller", ErrUnauthorized)
	assertRevert(t, e.market.CancelListing(e.ctx, seller, nft, 999), "Not seller", ErrUnauthorized)

	_, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	assert.True(t, ok)
	assert.Equal(t, market, e.ownerOf(t, nft, 1))
}

func TestBuyDistributesFunds(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))
	sellerBefore, treasuryBefore, buyerBefore := e.balance(seller), e.balance(treasury), e.balance(buyer)

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	expectedFee := uint256.NewInt(25_000_000_000_000_000)
	expectedProceeds := uint256.NewInt(975_000_000_000_000_000)

	assert.Equal(t, buyer, e.ownerOf(t, nft, 1))
	assert.True(t, new(uint256.Int).Sub(e.balance(treasury), treasuryBefore).Eq(expectedFee))
	assert.True(t, new(uint256.Int).Sub(e.balance(seller), sellerBefore).Eq(expectedProceeds))
	assert.True(t, new(uint256.Int).Sub(buyerBefore, e.balance(buyer)).Eq(ether(1)))
	assert.True(t, e.balance(market).IsZero())

	log := e.sink.last()
	assert.Equal(t, entity.SoldEvent, log.Name)
	sold := log.Data.(entity.Sold)
	assert.Equal(t, nft, sold.Collection)
	assert.Equal(t, uint64(1), sold.TokenId)
	assert.Equal(t, buyer, sold.Buyer)
	assert.True(t, sold.Price.Eq(ether(1)))
	assert.True(t, sold.Fee.Eq(expectedFee))
	assert.True(t, sold.Proceeds.Eq(expectedProceeds))

	_, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	assert.False(t, ok)
	require.Len(t, e.observer.sold, 1)
	assert.Equal(t, seller, e.observer.sold[0].Seller)
}

func TestBuyRejectsUnlisted(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	assertRevert(t, e.market.Buy(e.ctx, buyer, nft, 999, ether(1)), "Not listed", ErrNotListed)
}

func TestBuyRejectsWrongPrice(t *testing.T) {
	tests := map[string]*uint256.Int{
		"too low":  new(uint256.Int).Div(ether(1), uint256.NewInt(2)),
		"too high": ether(2),
		"nothing":  nil,
	}

	for name, payment := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.approveAndList(t, 1, ether(1))
			events := e.sink.count()
			buyerBefore, sellerBefore := e.balance(buyer), e.balance(seller)

			assertRevert(t, e.market.Buy(e.ctx, buyer, nft, 1, payment), "Wrong price", ErrPriceMismatch)

			listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
			require.True(t, ok)
			assert.True(t, listing.Price.Eq(ether(1)))
			assert.Equal(t, market, e.ownerOf(t, nft, 1))
			assert.True(t, e.balance(buyer).Eq(buyerBefore))
			assert.True(t, e.balance(seller).Eq(sellerBefore))
			assert.True(t, e.balance(treasury).IsZero())
			assert.Equal(t, events, e.sink.count())
		})
	}
}

func TestZeroPriceListingIsUnbuyable(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Mint(e.ctx, nft, seller, 2))
	e.approveAndList(t, 2, uint256.NewInt(0))

	assertRevert(t, e.market.Buy(e.ctx, buyer, nft, 2, uint256.NewInt(0)), "Not listed", ErrNotListed)
	assert.Equal(t, market, e.ownerOf(t, nft, 2))

	require.NoError(t, e.market.CancelListing(e.ctx, seller, nft, 2))
	assert.Equal(t, seller, e.ownerOf(t, nft, 2))
}

func TestBuyWithInsufficientFundsReverts(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(100))

	err := e.market.Buy(e.ctx, buyer, nft, 1, ether(100))

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, market, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(buyer).Eq(ether(10)))
}

func TestBuyFeeOverflowReverts(t *testing.T) {
	e := newEnv(t)
	maxPrice := new(uint256.Int).SetAllOne()
	e.approveAndList(t, 1, maxPrice)
	require.NoError(t, e.ledger.Mint(e.ctx, other, maxPrice))

	err := e.market.Buy(e.ctx, other, nft, 1, maxPrice)

	assertRevert(t, err, ReasonOverflow, fee.ErrArithmeticOverflow)
	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.True(t, listing.Price.Eq(maxPrice))
	assert.Equal(t, market, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(other).Eq(maxPrice))
	assert.True(t, e.balance(market).IsZero())
	assert.Equal(t, []string{"buy"}, e.observer.rejected)
}

func TestReentrancyDuringPaymentCollection(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	var buyErr, cancelErr error
	e.ledger.SetReceiver(market, func(ctx context.Context, from common.Address, amount *uint256.Int) error {
		if from != buyer {
			return nil
		}
		buyErr = e.market.Buy(ctx, buyer, nft, 1, ether(1))
		cancelErr = e.market.CancelListing(ctx, seller, nft, 1)
		return nil
	})

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	assertRevert(t, buyErr, ReasonNotListed, ErrNotListed)
	assertRevert(t, cancelErr, ReasonNotSeller, ErrUnauthorized)
	assert.Equal(t, buyer, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(buyer).Eq(ether(9)))
	assert.True(t, e.balance(market).IsZero())
}

func TestSetFee(t *testing.T) {
	for _, bps := range []uint64{500, 0, 10000} {
		e := newEnv(t)
		require.NoError(t, e.market.SetFee(e.ctx, deployer, bps))
		assert.Equal(t, bps, e.market.FeeBps(e.ctx))
	}

	e := newEnv(t)
	assertRevert(t, e.market.SetFee(e.ctx, seller, 500), "Not owner", ErrUnauthorized)
	assert.ErrorIs(t, e.market.SetFee(e.ctx, deployer, 10001), fee.ErrRateOutOfRange)
	assert.Equal(t, uint64(250), e.market.FeeBps(e.ctx))
	assert.Equal(t, []string{"setFee", "setFee"}, e.observer.rejected)
}

func TestSetTreasury(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.market.SetTreasury(e.ctx, deployer, other))
	assert.Equal(t, other, e.market.Treasury(e.ctx))

	assertRevert(t, e.market.SetTreasury(e.ctx, seller, seller), "Not owner", ErrUnauthorized)
	assert.Equal(t, other, e.market.Treasury(e.ctx))

	require.NoError(t, e.market.SetTreasury(e.ctx, deployer, common.Address{}))
	assert.Equal(t, common.Address{}, e.market.Treasury(e.ctx))
}

func TestFeesGoToZeroTreasury(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.market.SetTreasury(e.ctx, deployer, common.Address{}))
	e.approveAndList(t, 1, ether(1))

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	assert.True(t, e.balance(common.Address{}).Eq(uint256.NewInt(25_000_000_000_000_000)))
}

func TestMultipleListingsFromSameSeller(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Mint(e.ctx, nft, seller, 2))
	require.NoError(t, e.nfts.Mint(e.ctx, nft, seller, 3))
	require.NoError(t, e.nfts.SetApprovalForAll(e.ctx, nft, seller, market, true))

	for tokenId := uint64(1); tokenId <= 3; tokenId++ {
		require.NoError(t, e.market.List(e.ctx, seller, nft, tokenId, ether(tokenId)))
	}

	for tokenId := uint64(1); tokenId <= 3; tokenId++ {
		assert.Equal(t, market, e.ownerOf(t, nft, tokenId))
	}

	listings := e.market.Listings(e.ctx)
	require.Len(t, listings, 3)
	for i, listing := range listings {
		assert.Equal(t, uint64(i+1), listing.TokenId)
	}
}

func TestSellerBuysOwnListing(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	require.NoError(t, e.market.Buy(e.ctx, seller, nft, 1, ether(1)))

	assert.Equal(t, seller, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(seller).Eq(new(uint256.Int).Sub(ether(10), uint256.NewInt(25_000_000_000_000_000))))
	assert.True(t, e.balance(treasury).Eq(uint256.NewInt(25_000_000_000_000_000)))
}

func TestRelistAfterCancel(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))
	require.NoError(t, e.market.CancelListing(e.ctx, seller, nft, 1))

	assertRevert(t, e.market.List(e.ctx, seller, nft, 1, ether(2)), "Not approved", ErrNotApproved)

	e.approveAndList(t, 1, ether(2))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.True(t, listing.Price.Eq(ether(2)))
}

func TestRelistAfterPurchase(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))
	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	require.NoError(t, e.nfts.Approve(e.ctx, nft, buyer, market, 1))
	require.NoError(t, e.market.List(e.ctx, buyer, nft, 1, ether(2)))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	assert.Equal(t, buyer, listing.Seller)
	assert.True(t, listing.Price.Eq(ether(2)))
}

func TestDifferentCollections(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Deploy(e.ctx, nft2, "Mock NFT 2", "MNFT2"))
	require.NoError(t, e.nfts.Mint(e.ctx, nft2, seller, 1))
	require.NoError(t, e.nfts.Approve(e.ctx, nft2, seller, market, 1))

	e.approveAndList(t, 1, ether(1))
	require.NoError(t, e.market.List(e.ctx, seller, nft2, 1, ether(2)))

	first, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	require.True(t, ok)
	second, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft2, TokenId: 1})
	require.True(t, ok)

	assert.True(t, first.Price.Eq(ether(1)))
	assert.True(t, second.Price.Eq(ether(2)))
}

func TestFeePercentages(t *testing.T) {
	tests := map[string]struct {
		bps      uint64
		fee      *uint256.Int
		proceeds *uint256.Int
	}{
		"10%":  {1000, uint256.NewInt(100_000_000_000_000_000), uint256.NewInt(900_000_000_000_000_000)},
		"0%":   {0, uint256.NewInt(0), ether(1)},
		"100%": {10000, ether(1), uint256.NewInt(0)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			require.NoError(t, e.market.SetFee(e.ctx, deployer, tt.bps))
			e.approveAndList(t, 1, ether(1))
			sellerBefore := e.balance(seller)

			require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

			assert.True(t, e.balance(treasury).Eq(tt.fee))
			assert.True(t, new(uint256.Int).Sub(e.balance(seller), sellerBefore).Eq(tt.proceeds))
		})
	}
}

func TestFeeRateEvaluatedAtSettlement(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))
	require.NoError(t, e.market.SetFee(e.ctx, deployer, 1000))

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	assert.True(t, e.balance(treasury).Eq(uint256.NewInt(100_000_000_000_000_000)))
}

func TestQuote(t *testing.T) {
	e := newEnv(t)

	feeAmount, proceeds, err := e.market.Quote(e.ctx, ether(1))
	require.NoError(t, err)
	assert.True(t, feeAmount.Eq(uint256.NewInt(25_000_000_000_000_000)))
	assert.True(t, proceeds.Eq(uint256.NewInt(975_000_000_000_000_000)))
}

func TestNoDoubleSettlement(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))
	assertRevert(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)), "Not listed", ErrNotListed)
	assertRevert(t, e.market.CancelListing(e.ctx, seller, nft, 1), "Not seller", ErrUnauthorized)

	require.NoError(t, e.nfts.Mint(e.ctx, nft, seller, 2))
	e.approveAndList(t, 2, ether(1))
	require.NoError(t, e.market.CancelListing(e.ctx, seller, nft, 2))
	assertRevert(t, e.market.CancelListing(e.ctx, seller, nft, 2), "Not seller", ErrUnauthorized)
	assertRevert(t, e.market.Buy(e.ctx, buyer, nft, 2, ether(1)), "Not listed", ErrNotListed)

	assert.True(t, e.balance(seller).Eq(new(uint256.Int).Add(ether(10), uint256.NewInt(975_000_000_000_000_000))))
}

func TestReentrancyDuringSellerPayout(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	var buyErr, cancelErr error
	calls := 0
	e.ledger.SetReceiver(seller, func(ctx context.Context, from common.Address, amount *uint256.Int) error {
		calls++
		buyErr = e.market.Buy(ctx, seller, nft, 1, ether(1))
		cancelErr = e.market.CancelListing(ctx, seller, nft, 1)
		return nil
	})

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	assert.Equal(t, 1, calls)
	assertRevert(t, buyErr, "Not listed", ErrNotListed)
	assertRevert(t, cancelErr, "Not seller", ErrUnauthorized)

	assert.Equal(t, buyer, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(seller).Eq(new(uint256.Int).Add(ether(10), uint256.NewInt(975_000_000_000_000_000))))
	assert.True(t, e.balance(market).IsZero())
	assert.Empty(t, e.observer.rejected, "re-entrant rejections are not top-level outcomes")
}

func TestReentrancyDuringBuyerCustodyCallback(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	var buyErr, cancelErr error
	e.nfts.SetReceiver(buyer, func(ctx context.Context, c, operator, from common.Address, tokenId uint64) error {
		buyErr = e.market.Buy(ctx, buyer, c, tokenId, ether(1))
		cancelErr = e.market.CancelListing(ctx, seller, c, tokenId)
		return nil
	})

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	assertRevert(t, buyErr, "Not listed", ErrNotListed)
	assertRevert(t, cancelErr, "Not seller", ErrUnauthorized)
	assert.Equal(t, buyer, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(buyer).Eq(ether(9)))
}

func TestReentrancyDuringCancelCustodyCallback(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))

	var buyErr, cancelErr error
	e.nfts.SetReceiver(seller, func(ctx context.Context, c, operator, from common.Address, tokenId uint64) error {
		cancelErr = e.market.CancelListing(ctx, seller, c, tokenId)
		buyErr = e.market.Buy(ctx, buyer, c, tokenId, ether(1))
		return nil
	})

	require.NoError(t, e.market.CancelListing(e.ctx, seller, nft, 1))

	assertRevert(t, cancelErr, "Not seller", ErrUnauthorized)
	assertRevert(t, buyErr, "Not listed", ErrNotListed)
	assert.Equal(t, seller, e.ownerOf(t, nft, 1))
	assert.True(t, e.balance(buyer).Eq(ether(10)))
}

func TestReentrantListingCommitsWithOuterSale(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.nfts.Mint(e.ctx, nft, seller, 2))
	require.NoError(t, e.nfts.SetApprovalForAll(e.ctx, nft, seller, market, true))
	require.NoError(t, e.market.List(e.ctx, seller, nft, 1, ether(1)))

	e.ledger.SetReceiver(seller, func(ctx context.Context, from common.Address, amount *uint256.Int) error {
		return e.market.List(ctx, seller, nft, 2, ether(3))
	})

	require.NoError(t, e.market.Buy(e.ctx, buyer, nft, 1, ether(1)))

	listing, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 2})
	require.True(t, ok)
	assert.True(t, listing.Price.Eq(ether(3)))

	n := len(e.sink.logs)
	assert.Equal(t, entity.ListedEvent, e.sink.logs[n-2].Name)
	assert.Equal(t, entity.SoldEvent, e.sink.logs[n-1].Name)
	assert.Equal(t, e.sink.logs[n-2].TxID, e.sink.logs[n-1].TxID)
	assert.Len(t, e.observer.listed, 1, "only the top-level listing is observed")
}

func TestFailingPayoutRevertsEverything(t *testing.T) {
	tests := map[string]common.Address{
		"seller":   seller,
		"treasury": treasury,
	}

	for name, recipient := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.approveAndList(t, 1, ether(1))
			events := e.sink.count()
			refused := errors.New("payment refused")
			e.ledger.SetReceiver(recipient, func(ctx context.Context, from common.Address, amount *uint256.Int) error {
				return refused
			})

			err := e.market.Buy(e.ctx, buyer, nft, 1, ether(1))

			assert.ErrorIs(t, err, refused)
			assert.Equal(t, "", Reason(err))
			assert.Equal(t, market, e.ownerOf(t, nft, 1))
			_, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
			assert.True(t, ok)
			assert.True(t, e.balance(buyer).Eq(ether(10)))
			assert.True(t, e.balance(seller).Eq(ether(10)))
			assert.True(t, e.balance(treasury).IsZero())
			assert.True(t, e.balance(market).IsZero())
			assert.Equal(t, events, e.sink.count())
			assert.Equal(t, []string{"buy"}, e.observer.rejected)
		})
	}
}

func TestFailingCustodyCallbackRevertsCancel(t *testing.T) {
	e := newEnv(t)
	e.approveAndList(t, 1, ether(1))
	refused := errors.New("token refused")
	e.nfts.SetReceiver(seller, func(ctx context.Context, c, operator, from common.Address, tokenId uint64) error {
		return refused
	})

	assert.ErrorIs(t, e.market.CancelListing(e.ctx, seller, nft, 1), refused)

	_, ok := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: 1})
	assert.True(t, ok)
	assert.Equal(t, market, e.ownerOf(t, nft, 1))
}

// TestCustodyInvariant drives random operations and checks after every call that a listing
// exists exactly when the marketplace holds the token, and that no currency is created.
func TestCustodyInvariant(t *testing.T) {
	e := newEnv(t)
	actors := []common.Address{seller, buyer, other}
	tokens := []uint64{1, 2, 3, 4}

	require.NoError(t, e.ledger.Mint(e.ctx, other, ether(10)))
	for _, tokenId := range tokens[1:] {
		require.NoError(t, e.nfts.Mint(e.ctx, nft, actors[int(tokenId)%len(actors)], tokenId))
	}
	for _, actor := range actors {
		require.NoError(t, e.nfts.SetApprovalForAll(e.ctx, nft, actor, market, true))
	}

	holders := append([]common.Address{treasury, market}, actors...)
	total := func() *uint256.Int {
		sum := new(uint256.Int)
		for _, h := range holders {
			sum.Add(sum, e.balance(h))
		}
		return sum
	}
	supply := total()

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		actor := actors[rnd.Intn(len(actors))]
		tokenId := tokens[rnd.Intn(len(tokens))]
		price := uint256.NewInt(uint64(rnd.Intn(4)) * 1_000_000_000_000_000)

		switch rnd.Intn(4) {
		case 0:
			_ = e.market.List(e.ctx, actor, nft, tokenId, price)
		case 1:
			_ = e.market.CancelListing(e.ctx, actor, nft, tokenId)
		case 2:
			_ = e.market.Buy(e.ctx, actor, nft, tokenId, price)
		case 3:
			_ = e.market.SetFee(e.ctx, deployer, uint64(rnd.Intn(10001)))
		}

		for _, id := range tokens {
			_, listed := e.market.Listing(e.ctx, entity.ListingKey{Collection: nft, TokenId: id})
			assert.Equal(t, listed, e.ownerOf(t, nft, id) == market, "token %d after step %d", id, i)
		}
		assert.True(t, total().Eq(supply), "supply changed at step %d", i)
		assert.True(t, e.balance(market).IsZero(), "marketplace kept funds at step %d", i)
	}
}
