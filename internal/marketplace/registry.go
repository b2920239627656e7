package marketplace

import (
	"bytes"
	"sort"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
)

// registry holds the active listings. Every write is journaled in the chain so a failed
// call leaves it untouched.
type registry struct {
	chain    *chain.Chain
	listings map[entity.ListingKey]entity.Listing
}

func newRegistry(c *chain.Chain) *registry {
	return &registry{chain: c, listings: make(map[entity.ListingKey]entity.Listing)}
}

func (r *registry) get(key entity.ListingKey) (entity.Listing, bool) {
	listing, ok := r.listings[key]
	if ok {
		listing.Price = listing.Price.Clone()
	}

	return listing, ok
}

func (r *registry) put(listing entity.Listing) {
	listing.Price = listing.Price.Clone()
	r.write(listing.Key(), &listing)
}

func (r *registry) remove(key entity.ListingKey) {
	r.write(key, nil)
}

func (r *registry) write(key entity.ListingKey, listing *entity.Listing) {
	prev, existed := r.listings[key]
	if listing == nil {
		delete(r.listings, key)
	} else {
		r.listings[key] = *listing
	}

	r.chain.Journal(func() {
		if existed {
			r.listings[key] = prev
		} else {
			delete(r.listings, key)
		}
	})
}

func (r *registry) all() []entity.Listing {
	listings := make([]entity.Listing, 0, len(r.listings))
	for _, listing := range r.listings {
		listing.Price = listing.Price.Clone()
		listings = append(listings, listing)
	}

	sort.Slice(listings, func(i, j int) bool {
		if c := bytes.Compare(listings[i].Collection[:], listings[j].Collection[:]); c != 0 {
			return c < 0
		}
		return listings[i].TokenId < listings[j].TokenId
	})

	return listings
}
