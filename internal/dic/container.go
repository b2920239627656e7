// Package dic holds the dependency container shared by the binaries.
package dic

import (
	"context"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/api"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/config"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/daemon"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/elastic_search"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/event"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/genesis"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/indexer"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/metrics"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/notifier"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/repository"
	"github.com/sarulabs/di/v2"
	"go.uber.org/zap"
)

var Definitions = []di.Def{
	{
		Name: "event",
		Build: func(ctn di.Container) (interface{}, error) {
			return event.NewManager(), nil
		},
		Close: func(obj interface{}) error {
			obj.(event.Manager).Close()
			return nil
		},
	},
	{
		Name: "chain",
		Build: func(ctn di.Container) (interface{}, error) {
			return chain.New(ctn.Get("event").(event.Manager)), nil
		},
	},
	{
		Name: "metrics",
		Build: func(ctn di.Container) (interface{}, error) {
			return metrics.New(config.Get().Currency.Decimals), nil
		},
	},
	{
		Name: "genesis",
		Build: func(ctn di.Container) (interface{}, error) {
			if file := config.Get().GenesisFile; file != "" {
				return genesis.Load(file)
			}

			cfg := config.Get().Market
			return genesis.New(genesis.Market{
				Address:  cfg.Address,
				Owner:    cfg.Owner,
				Treasury: cfg.Treasury,
				FeeBps:   &cfg.FeeBps,
			}, config.Get().Currency.Decimals)
		},
	},
	{
		Name: "devnet",
		Build: func(ctn di.Container) (interface{}, error) {
			g := ctn.Get("genesis").(*genesis.Genesis)
			return g.Build(context.Background(), ctn.Get("chain").(*chain.Chain), ctn.Get("metrics").(*metrics.Metrics))
		},
	},
	{
		Name: "actionRepo",
		Build: func(ctn di.Container) (interface{}, error) {
			if idx, ok := ctn.Get("elastic").(elastic_search.Index); ok && idx != nil {
				return repository.NewElasticActionRepository(idx), nil
			}

			return repository.NewActionRepository(), nil
		},
	},
	{
		Name: "elastic",
		Build: func(ctn di.Container) (interface{}, error) {
			if !config.Get().ElasticSearch.Enabled {
				return nil, nil
			}

			idx, err := elastic_search.New()
			if err != nil {
				return nil, err
			}
			if err := idx.InstallMappings(false); err != nil {
				return nil, err
			}

			return idx, nil
		},
	},
	{
		Name: "notifier",
		Build: func(ctn di.Container) (interface{}, error) {
			return notifier.NewService(
				config.Get().Webhook.Url,
				config.Get().Currency.Symbol,
				notifier.NewClient(config.Get().Webhook.Retries),
			), nil
		},
	},
	{
		Name: "api",
		Build: func(ctn di.Container) (interface{}, error) {
			devnet := ctn.Get("devnet").(*genesis.Devnet)

			return api.NewServer(
				devnet.Market,
				devnet.Ledger,
				ctn.Get("actionRepo").(repository.ActionRepository),
				ctn.Get("metrics").(*metrics.Metrics).Handler(),
				api.Options{
					Symbol:    config.Get().Currency.Symbol,
					Decimals:  devnet.Decimals,
					DevCalls:  config.Get().DevCalls,
					RateLimit: config.Get().Api.RateLimit,
					RateBurst: config.Get().Api.RateBurst,
				},
			), nil
		},
	},
	{
		Name: "daemon",
		Build: func(ctn di.Container) (interface{}, error) {
			c := &Container{ctn}
			c.subscribe()

			return daemon.NewDaemon(
				c.GetGenesis(),
				c.GetDevnet(),
				c.GetEventManager(),
				c.GetElastic(),
				c.GetApi().Router(),
				config.Get().Api.Port,
			), nil
		},
	},
}

type Container struct {
	di.Container
}

func NewContainer() (*Container, error) {
	builder, err := di.NewBuilder()
	if err != nil {
		return nil, err
	}
	if err := builder.Add(Definitions...); err != nil {
		return nil, err
	}

	return &Container{builder.Build()}, nil
}

// subscribe attaches every consumer of committed marketplace events to the event manager.
func (c *Container) subscribe() {
	manager := c.GetEventManager()
	symbol := config.Get().Currency.Symbol

	repository.RecordActions(manager, c.GetActionRepo(), symbol)
	c.GetNotifier().Subscribe(manager)

	if idx := c.GetElastic(); idx != nil {
		indexer.NewMarketplaceIndexer(idx, symbol).Subscribe(manager)
	} else {
		zap.L().Info("Container: Elastic search indexing disabled")
	}
}

func (c *Container) GetEventManager() event.Manager {
	return c.Get("event").(event.Manager)
}

func (c *Container) GetChain() *chain.Chain {
	return c.Get("chain").(*chain.Chain)
}

func (c *Container) GetMetrics() *metrics.Metrics {
	return c.Get("metrics").(*metrics.Metrics)
}

func (c *Container) GetGenesis() *genesis.Genesis {
	return c.Get("genesis").(*genesis.Genesis)
}

func (c *Container) GetDevnet() *genesis.Devnet {
	return c.Get("devnet").(*genesis.Devnet)
}

func (c *Container) GetMarketplace() marketplace.Marketplace {
	return c.GetDevnet().Market
}

func (c *Container) GetActionRepo() repository.ActionRepository {
	return c.Get("actionRepo").(repository.ActionRepository)
}

// GetElastic returns nil when elastic search is disabled.
func (c *Container) GetElastic() elastic_search.Index {
	idx, _ := c.Get("elastic").(elastic_search.Index)
	return idx
}

func (c *Container) GetNotifier() notifier.Service {
	return c.Get("notifier").(notifier.Service)
}

func (c *Container) GetApi() api.Server {
	return c.Get("api").(api.Server)
}

func (c *Container) GetDaemon() *daemon.Daemon {
	return c.Get("daemon").(*daemon.Daemon)
}
