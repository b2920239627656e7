// Package genesis builds a devnet from a YAML description and replays scenarios against it.
package genesis

import (
	"context"
	"os"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/collection"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/ledger"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/ZilDuck/nft-escrow-marketplace/pkg/zil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultDecimals int32 = 12

var (
	ErrUnknownAddress = errors.New("unknown address")
	ErrMissingMarket  = errors.New("market address and owner are required")
)

// Genesis describes the initial devnet state. Amounts are in whole currency units and
// addresses may be given as hex, bech32 or the name of a declared account or collection.
type Genesis struct {
	Decimals    *int32       `yaml:"decimals"`
	Market      Market       `yaml:"market"`
	Accounts    []Account    `yaml:"accounts"`
	Collections []Collection `yaml:"collections"`
	Steps       []Step       `yaml:"steps"`

	names map[string]common.Address
}

type Market struct {
	Address  string  `yaml:"address"`
	Owner    string  `yaml:"owner"`
	Treasury string  `yaml:"treasury"`
	FeeBps   *uint64 `yaml:"feeBps"`
}

type Account struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

type Collection struct {
	Name    string  `yaml:"name"`
	Symbol  string  `yaml:"symbol"`
	Address string  `yaml:"address"`
	Tokens  []Token `yaml:"tokens"`
}

type Token struct {
	Id    uint64 `yaml:"id"`
	Owner string `yaml:"owner"`
}

// Devnet is the state a genesis was applied to.
type Devnet struct {
	Chain       *chain.Chain
	Ledger      *ledger.Ledger
	Collections *collection.Registry
	Market      marketplace.Marketplace
	Decimals    int32
}

// New describes a devnet holding nothing but the marketplace.
func New(market Market, decimals int32) (*Genesis, error) {
	g := &Genesis{Decimals: &decimals, Market: market}
	if err := g.index(); err != nil {
		return nil, err
	}

	return g, nil
}

func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read genesis %s", path)
	}

	return Parse(data)
}

func Parse(data []byte) (*Genesis, error) {
	g := &Genesis{}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, errors.Wrap(err, "failed to parse genesis")
	}

	if err := g.index(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Genesis) GetDecimals() int32 {
	if g.Decimals == nil {
		return DefaultDecimals
	}

	return *g.Decimals
}

func (g *Genesis) index() error {
	g.names = make(map[string]common.Address)

	if g.Market.Address != "" {
		addr, ok := zil.ParseAddress(g.Market.Address)
		if !ok {
			return errors.Wrapf(ErrUnknownAddress, "market %q", g.Market.Address)
		}
		g.names["market"] = addr
	}

	for _, a := range g.Accounts {
		if a.Name == "" {
			continue
		}
		addr, ok := zil.ParseAddress(a.Address)
		if !ok {
			return errors.Wrapf(ErrUnknownAddress, "account %s %q", a.Name, a.Address)
		}
		g.names[a.Name] = addr
	}

	for _, c := range g.Collections {
		if c.Name == "" {
			continue
		}
		addr, ok := zil.ParseAddress(c.Address)
		if !ok {
			return errors.Wrapf(ErrUnknownAddress, "collection %s %q", c.Name, c.Address)
		}
		g.names[c.Name] = addr
	}

	return nil
}

// Resolve maps a declared name or a literal address to an address.
func (g *Genesis) Resolve(value string) (common.Address, error) {
	if addr, ok := g.names[value]; ok {
		return addr, nil
	}
	if addr, ok := zil.ParseAddress(value); ok {
		return addr, nil
	}

	return common.Address{}, errors.Wrapf(ErrUnknownAddress, "%q", value)
}

// Build deploys the declared collections, mints tokens and balances, and deploys the
// marketplace on c.
func (g *Genesis) Build(ctx context.Context, c *chain.Chain, observer marketplace.Observer) (*Devnet, error) {
	if g.Market.Address == "" || g.Market.Owner == "" {
		return nil, ErrMissingMarket
	}

	cfg, err := g.marketConfig()
	if err != nil {
		return nil, err
	}

	l := ledger.New(c)
	nfts := collection.NewRegistry(c)

	for _, a := range g.Accounts {
		addr, err := g.Resolve(a.Address)
		if err != nil {
			return nil, err
		}
		balance, err := entity.ParseAmount(defaultAmount(a.Balance), g.GetDecimals())
		if err != nil {
			return nil, errors.Wrapf(err, "balance of %s", addr.Hex())
		}
		if err := l.Mint(ctx, addr, balance); err != nil {
			return nil, errors.Wrapf(err, "failed to fund %s", addr.Hex())
		}
	}

	for _, col := range g.Collections {
		addr, err := g.Resolve(col.Address)
		if err != nil {
			return nil, err
		}
		if err := nfts.Deploy(ctx, addr, col.Name, col.Symbol); err != nil {
			return nil, errors.Wrapf(err, "failed to deploy collection %s", addr.Hex())
		}
		for _, token := range col.Tokens {
			owner, err := g.Resolve(token.Owner)
			if err != nil {
				return nil, err
			}
			if err := nfts.Mint(ctx, addr, owner, token.Id); err != nil {
				return nil, errors.Wrapf(err, "failed to mint %s/%d", addr.Hex(), token.Id)
			}
		}
	}

	market, err := marketplace.New(c, nfts, l.Account(cfg.Address), cfg, observer)
	if err != nil {
		return nil, err
	}

	zap.L().With(
		zap.Int("accounts", len(g.Accounts)),
		zap.Int("collections", len(g.Collections)),
		zap.String("market", cfg.Address.Hex()),
	).Info("Genesis: Devnet built")

	return &Devnet{Chain: c, Ledger: l, Collections: nfts, Market: market, Decimals: g.GetDecimals()}, nil
}

func (g *Genesis) marketConfig() (marketplace.Config, error) {
	cfg := marketplace.Config{FeeBps: marketplace.DefaultFeeBps}
	if g.Market.FeeBps != nil {
		cfg.FeeBps = *g.Market.FeeBps
	}

	var err error
	if cfg.Address, err = g.Resolve(g.Market.Address); err != nil {
		return cfg, err
	}
	if cfg.Owner, err = g.Resolve(g.Market.Owner); err != nil {
		return cfg, err
	}
	if g.Market.Treasury != "" {
		if cfg.Treasury, err = g.Resolve(g.Market.Treasury); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func defaultAmount(amount string) string {
	if amount == "" {
		return "0"
	}

	return amount
}
