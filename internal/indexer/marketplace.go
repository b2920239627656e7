package indexer

import (
	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/elastic_search"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/event"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/factory"
	"go.uber.org/zap"
)

// MarketplaceIndexer mirrors committed marketplace activity into elastic search: one action
// document per event and one listing document per active listing.
type MarketplaceIndexer interface {
	Subscribe(manager event.Manager)
	IndexLog(log chain.Log) error
}

type marketplaceIndexer struct {
	elastic  elastic_search.Index
	fungible string
}

func NewMarketplaceIndexer(elastic elastic_search.Index, fungible string) MarketplaceIndexer {
	return marketplaceIndexer{elastic, fungible}
}

func (i marketplaceIndexer) Subscribe(manager event.Manager) {
	manager.AddListener(event.MarketplaceEvents, func(msg interface{}) {
		log, ok := msg.(chain.Log)
		if !ok {
			return
		}
		if err := i.IndexLog(log); err != nil {
			zap.L().With(zap.Error(err), zap.String("txId", log.TxID), zap.String("event", log.Name)).
				Error("MarketplaceIndexer: Failed to index log")
			return
		}
		i.elastic.BatchPersist()
	})
}

func (i marketplaceIndexer) IndexLog(log chain.Log) error {
	action, err := factory.CreateAction(log, i.fungible)
	if err != nil {
		return err
	}
	i.elastic.AddIndexRequest(elastic_search.ActionIndex.Get(), action, elastic_search.ActionCreate)

	switch data := log.Data.(type) {
	case entity.Listed:
		key := entity.ListingKey{Collection: data.Collection, TokenId: data.TokenId}
		listing := entity.Listing{Collection: data.Collection, TokenId: data.TokenId, Seller: data.Seller, Price: data.Price}
		i.elastic.AddIndexRequest(elastic_search.ListingIndex.Get(), entity.NewListingView(key, listing, true), elastic_search.ListingCreate)
	case entity.Canceled:
		i.removeListing(entity.ListingKey{Collection: data.Collection, TokenId: data.TokenId})
	case entity.Sold:
		i.removeListing(entity.ListingKey{Collection: data.Collection, TokenId: data.TokenId})
	}

	return nil
}

func (i marketplaceIndexer) removeListing(key entity.ListingKey) {
	view := entity.NewListingView(key, entity.Listing{}, false)
	i.elastic.AddDeleteRequest(elastic_search.ListingIndex.Get(), view, elastic_search.ListingDelete)
}
