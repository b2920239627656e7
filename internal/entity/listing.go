package entity

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gosimple/slug"
	"github.com/holiman/uint256"
)

type ListingKey struct {
	Collection common.Address `json:"collection"`
	TokenId    uint64         `json:"tokenId"`
}

func (k ListingKey) String() string {
	return fmt.Sprintf("%s/%d", k.Collection.Hex(), k.TokenId)
}

type Listing struct {
	Collection common.Address
	TokenId    uint64
	Seller     common.Address
	Price      *uint256.Int
}

func (l Listing) Key() ListingKey {
	return ListingKey{Collection: l.Collection, TokenId: l.TokenId}
}

func (l Listing) Slug() string {
	return CreateListingSlug(l.TokenId, l.Collection)
}

func CreateListingSlug(tokenId uint64, collection common.Address) string {
	return slug.Make(fmt.Sprintf("listing-%d-%s", tokenId, collection.Hex()))
}

// ListingView is the public shape of a registry lookup. An absent listing is reported with
// a zero seller, a zero price and Listed false.
type ListingView struct {
	Collection string `json:"collection"`
	TokenId    uint64 `json:"tokenId"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
	Listed     bool   `json:"listed"`
}

func NewListingView(key ListingKey, listing Listing, listed bool) ListingView {
	view := ListingView{
		Collection: key.Collection.Hex(),
		TokenId:    key.TokenId,
		Seller:     common.Address{}.Hex(),
		Price:      "0",
	}
	if listed {
		view.Seller = listing.Seller.Hex()
		view.Price = listing.Price.Dec()
		view.Listed = true
	}

	return view
}

func (v ListingView) Slug() string {
	return CreateListingSlug(v.TokenId, common.HexToAddress(v.Collection))
}

func (l Listing) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewListingView(l.Key(), l, true))
}
