package repository

import (
	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/event"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/factory"
	"go.uber.org/zap"
)

// RecordActions saves an action for every committed marketplace event.
func RecordActions(manager event.Manager, repo ActionRepository, fungible string) {
	manager.AddListener(event.MarketplaceEvents, func(msg interface{}) {
		log, ok := msg.(chain.Log)
		if !ok {
			return
		}

		action, err := factory.CreateAction(log, fungible)
		if err != nil {
			zap.L().With(zap.Error(err), zap.String("event", log.Name)).Warn("ActionRepository: Skipping log")
			return
		}
		repo.Save(action)
	})
}
