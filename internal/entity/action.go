package entity

import (
	"crypto/md5"
	"fmt"
)

type Action struct {
	Contract string     `json:"contract"`
	TokenId  uint64     `json:"tokenId"`
	TxID     string     `json:"txId"`
	BlockNum uint64     `json:"blockNum"`
	Index    int        `json:"index"`
	Action   ActionType `json:"action"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Cost     string     `json:"cost"`
	Fee      string     `json:"fee"`
	Proceeds string     `json:"proceeds"`
	Fungible string     `json:"fungible"`
}

type ActionType string

const (
	ListingAction   ActionType = "listing"
	DelistingAction ActionType = "delisting"
	SaleAction      ActionType = "sale"
)

func (a Action) Slug() string {
	return CreateActionSlug(a.TokenId, a.Contract, a.TxID, string(a.Action))
}

func CreateActionSlug(tokenId uint64, contract, txId, action string) string {
	data := []byte(fmt.Sprintf("action-%d-%s-%s-%s", tokenId, contract, txId, action))
	return fmt.Sprintf("%x", md5.Sum(data))
}

type CollectionStats struct {
	Contract   string `json:"contract"`
	Listings   uint64 `json:"listings"`
	Delistings uint64 `json:"delistings"`
	Sales      uint64 `json:"sales"`
	Volume     string `json:"volume"`
	Fees       string `json:"fees"`
}
