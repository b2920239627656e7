package elastic_search

import (
	"fmt"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/config"
)

type Indices string

var (
	ActionIndex  Indices = "action"
	ListingIndex Indices = "listing"
)

// Get prefixes the index with the network and the configured index name.
func (i *Indices) Get() string {
	return fmt.Sprintf("%s.%s.%s", config.Get().Network, config.Get().Index, string(*i))
}

func All() []Indices {
	return []Indices{
		ActionIndex,
		ListingIndex,
	}
}
