package entity

import (
	"github.com/ethereum/go-ethereum/common"
)

type MarketState struct {
	Address  common.Address `json:"address"`
	Owner    common.Address `json:"owner"`
	Treasury common.Address `json:"treasury"`
	FeeBps   uint64         `json:"feeBps"`
}
