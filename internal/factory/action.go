package factory

import (
	"errors"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/holiman/uint256"
)

var ErrUnsupportedLog = errors.New("unsupported log")

// CreateAction turns a committed marketplace log into an activity record. fungible names
// the settlement currency.
func CreateAction(log chain.Log, fungible string) (entity.Action, error) {
	switch data := log.Data.(type) {
	case entity.Listed:
		return CreateListingAction(log, data, fungible), nil
	case entity.Canceled:
		return CreateDelistingAction(log, data), nil
	case entity.Sold:
		return CreateSaleAction(log, data, fungible), nil
	}

	return entity.Action{}, ErrUnsupportedLog
}

func CreateListingAction(log chain.Log, listed entity.Listed, fungible string) entity.Action {
	return entity.Action{
		Contract: listed.Collection.Hex(),
		TokenId:  listed.TokenId,
		TxID:     log.TxID,
		BlockNum: log.BlockNum,
		Index:    log.Index,
		Action:   entity.ListingAction,
		From:     listed.Seller.Hex(),
		Cost:     amount(listed.Price),
		Fungible: fungible,
	}
}

func CreateDelistingAction(log chain.Log, canceled entity.Canceled) entity.Action {
	return entity.Action{
		Contract: canceled.Collection.Hex(),
		TokenId:  canceled.TokenId,
		TxID:     log.TxID,
		BlockNum: log.BlockNum,
		Index:    log.Index,
		Action:   entity.DelistingAction,
		From:     canceled.Seller.Hex(),
	}
}

func CreateSaleAction(log chain.Log, sold entity.Sold, fungible string) entity.Action {
	return entity.Action{
		Contract: sold.Collection.Hex(),
		TokenId:  sold.TokenId,
		TxID:     log.TxID,
		BlockNum: log.BlockNum,
		Index:    log.Index,
		Action:   entity.SaleAction,
		From:     sold.Seller.Hex(),
		To:       sold.Buyer.Hex(),
		Cost:     amount(sold.Price),
		Fee:      amount(sold.Fee),
		Proceeds: amount(sold.Proceeds),
		Fungible: fungible,
	}
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}

	return v.Dec()
}
