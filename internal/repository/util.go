package repository

import (
	"context"
	"time"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/elastic_search"
	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const searchAttempts = 3

// search runs the query, backing off while the cluster answers 429.
func search(searchService *elastic.SearchService) (*elastic.SearchResult, error) {
	var err error
	for attempt := 1; attempt <= searchAttempts; attempt++ {
		var result *elastic.SearchResult
		result, err = searchService.Do(context.Background())
		if err == nil || err.Error() != elastic_search.ErrTooManyRequests.Error() {
			return result, err
		}

		zap.L().With(zap.Int("attempt", attempt)).Warn("ActionRepository: 429 (Too Many Requests)")
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	return nil, errors.Wrap(err, "search gave up")
}
