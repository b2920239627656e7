package repository

import (
	"encoding/json"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/elastic_search"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"
)

const maxActions = 10000

type elasticActionRepository struct {
	elastic elastic_search.Index
}

// NewElasticActionRepository reads the activity history back from the action index. Saved
// actions are buffered in the index until it persists.
func NewElasticActionRepository(elastic elastic_search.Index) ActionRepository {
	return elasticActionRepository{elastic}
}

func (r elasticActionRepository) Save(action entity.Action) {
	r.elastic.AddIndexRequest(elastic_search.ActionIndex.Get(), action, elastic_search.ActionCreate)
}

func (r elasticActionRepository) GetActionsForToken(contract string, tokenId uint64) ([]entity.Action, error) {
	query := elastic.NewBoolQuery().Must(
		elastic.NewTermQuery("contract.keyword", contract),
		elastic.NewTermQuery("tokenId", tokenId),
	)

	return r.findAll(search(r.elastic.GetClient().
		Search(elastic_search.ActionIndex.Get()).
		Query(query).
		Sort("blockNum", true).
		Size(maxActions)))
}

func (r elasticActionRepository) GetActionsForContract(contract string) ([]entity.Action, error) {
	query := elastic.NewTermQuery("contract.keyword", contract)

	return r.findAll(search(r.elastic.GetClient().
		Search(elastic_search.ActionIndex.Get()).
		Query(query).
		Sort("blockNum", true).
		Size(maxActions)))
}

func (r elasticActionRepository) GetLastSale(contract string, tokenId uint64) (entity.Action, error) {
	query := elastic.NewBoolQuery().Must(
		elastic.NewTermQuery("contract.keyword", contract),
		elastic.NewTermQuery("tokenId", tokenId),
		elastic.NewTermQuery("action.keyword", string(entity.SaleAction)),
	)

	actions, err := r.findAll(search(r.elastic.GetClient().
		Search(elastic_search.ActionIndex.Get()).
		Query(query).
		Sort("blockNum", false).
		Size(1)))
	if err != nil {
		return entity.Action{}, err
	}
	if len(actions) == 0 {
		return entity.Action{}, ErrActionNotFound
	}

	return actions[0], nil
}

func (r elasticActionRepository) GetStats(contract string) (entity.CollectionStats, error) {
	actions, err := r.GetActionsForContract(contract)
	if err != nil {
		return entity.CollectionStats{}, err
	}

	return aggregate(normalize(contract), actions), nil
}

func (r elasticActionRepository) findAll(results *elastic.SearchResult, err error) ([]entity.Action, error) {
	if err != nil {
		return nil, err
	}

	actions := make([]entity.Action, 0, len(results.Hits.Hits))
	for _, hit := range results.Hits.Hits {
		var action entity.Action
		if err := json.Unmarshal(hit.Source, &action); err != nil {
			zap.L().With(zap.Error(err), zap.String("id", hit.Id)).Error("ActionRepository: Failed to unmarshal action")
			continue
		}
		actions = append(actions, action)
	}

	return actions, nil
}
