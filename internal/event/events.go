package event

import "github.com/ZilDuck/nft-escrow-marketplace/internal/entity"

type Type string

const (
	ListedEvent   Type = entity.ListedEvent
	CanceledEvent Type = entity.CanceledEvent
	SoldEvent     Type = entity.SoldEvent
)

var MarketplaceEvents = []Type{ListedEvent, CanceledEvent, SoldEvent}
