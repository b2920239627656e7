package repository

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

var (
	ErrActionNotFound = errors.New("action not found")
)

type ActionRepository interface {
	Save(action entity.Action)
	GetActionsForToken(contract string, tokenId uint64) ([]entity.Action, error)
	GetActionsForContract(contract string) ([]entity.Action, error)
	GetLastSale(contract string, tokenId uint64) (entity.Action, error)
	GetStats(contract string) (entity.CollectionStats, error)
}

// actionRepository keeps the activity history in memory. Aggregated collection stats are
// cached until the next action of the collection is saved.
type actionRepository struct {
	mu       sync.RWMutex
	actions  map[string][]entity.Action
	statsTTL time.Duration
	stats    *cache.Cache
}

func NewActionRepository() ActionRepository {
	return &actionRepository{
		actions:  make(map[string][]entity.Action),
		statsTTL: 5 * time.Minute,
		stats:    cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (r *actionRepository) Save(action entity.Action) {
	contract := normalize(action.Contract)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions[contract] = append(r.actions[contract], action)
	r.stats.Delete(contract)
}

func (r *actionRepository) GetActionsForToken(contract string, tokenId uint64) ([]entity.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]entity.Action, 0)
	for _, action := range r.actions[normalize(contract)] {
		if action.TokenId == tokenId {
			actions = append(actions, action)
		}
	}

	return actions, nil
}

func (r *actionRepository) GetActionsForContract(contract string) ([]entity.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]entity.Action(nil), r.actions[normalize(contract)]...), nil
}

func (r *actionRepository) GetLastSale(contract string, tokenId uint64) (entity.Action, error) {
	actions, _ := r.GetActionsForToken(contract, tokenId)

	return lastSale(actions)
}

func (r *actionRepository) GetStats(contract string) (entity.CollectionStats, error) {
	contract = normalize(contract)
	if cached, found := r.stats.Get(contract); found {
		return cached.(entity.CollectionStats), nil
	}

	// held across aggregate and Set so a concurrent Save cannot be cached over
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, found := r.stats.Get(contract); found {
		return cached.(entity.CollectionStats), nil
	}
	stats := aggregate(contract, r.actions[contract])
	r.stats.Set(contract, stats, r.statsTTL)

	return stats, nil
}

func lastSale(actions []entity.Action) (entity.Action, error) {
	sortActions(actions)
	for idx := len(actions) - 1; idx >= 0; idx-- {
		if actions[idx].Action == entity.SaleAction {
			return actions[idx], nil
		}
	}

	return entity.Action{}, ErrActionNotFound
}

func aggregate(contract string, actions []entity.Action) entity.CollectionStats {
	volume, fees := decimal.Zero, decimal.Zero
	stats := entity.CollectionStats{Contract: contract}

	for _, action := range actions {
		switch action.Action {
		case entity.ListingAction:
			stats.Listings++
		case entity.DelistingAction:
			stats.Delistings++
		case entity.SaleAction:
			stats.Sales++
			volume = volume.Add(parse(action.Cost))
			fees = fees.Add(parse(action.Fee))
		}
	}

	stats.Volume = volume.String()
	stats.Fees = fees.String()

	return stats
}

func sortActions(actions []entity.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].BlockNum != actions[j].BlockNum {
			return actions[i].BlockNum < actions[j].BlockNum
		}
		return actions[i].Index < actions[j].Index
	})
}

func parse(amount string) decimal.Decimal {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero
	}

	return d
}

func normalize(contract string) string {
	return strings.ToLower(contract)
}
