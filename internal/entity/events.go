package entity

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	ListedEvent   = "Listed"
	CanceledEvent = "Canceled"
	SoldEvent     = "Sold"
)

type Listed struct {
	Collection common.Address `json:"collection"`
	TokenId    uint64         `json:"tokenId"`
	Seller     common.Address `json:"seller"`
	Price      *uint256.Int   `json:"price"`
}

type Canceled struct {
	Collection common.Address `json:"collection"`
	TokenId    uint64         `json:"tokenId"`
	Seller     common.Address `json:"seller"`
}

// Sold carries the settlement split next to the buyer and price.
type Sold struct {
	Collection common.Address `json:"collection"`
	TokenId    uint64         `json:"tokenId"`
	Buyer      common.Address `json:"buyer"`
	Price      *uint256.Int   `json:"price"`
	Seller     common.Address `json:"seller"`
	Fee        *uint256.Int   `json:"fee"`
	Proceeds   *uint256.Int   `json:"proceeds"`
	Treasury   common.Address `json:"treasury"`
}
