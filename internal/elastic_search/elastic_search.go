package elastic_search

import (
	"context"
	"embed"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/config"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/olivere/elastic/v7"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sha1sum/aws_signing_client"
	"go.uber.org/zap"
)

//go:embed mappings/*.json
var mappings embed.FS

type Index interface {
	GetClient() *elastic.Client

	InstallMappings(reindex bool) error

	AddIndexRequest(index string, entity entity.Entity, reqAction RequestAction)
	AddDeleteRequest(index string, entity entity.Entity, reqAction RequestAction)
	AddRequest(index string, entity entity.Entity, reqType RequestType, reqAction RequestAction)
	HasRequest(entity entity.Entity) bool
	GetRequests() []Request
	GetRequest(id string) *Request
	ClearRequests()

	BatchPersist() bool
	Persist() (int, error)
}

type index struct {
	client     *elastic.Client
	cache      *cache.Cache
	refresh    string
	bulkCount  int
	batchCount int

	mu  *sync.Mutex
	seq *uint64
}

type Request struct {
	Index  string
	Entity entity.Entity
	Type   RequestType
	Action RequestAction

	seq uint64
}

type RequestType string

const (
	IndexRequest  RequestType = "index"
	DeleteRequest RequestType = "delete"
)

type RequestAction string

const (
	ListingCreate RequestAction = "ListingCreate"
	ListingDelete RequestAction = "ListingDelete"
	ActionCreate  RequestAction = "ActionCreate"
)

const persistAttempts int = 3

var ErrTooManyRequests = errors.New("elastic: Error 429 (Too Many Requests)")

func New() (Index, error) {
	client, err := newClient()
	if err != nil {
		zap.L().With(zap.Error(err)).Error("ElasticSearch: Failed to create client")
		return nil, err
	}

	return NewIndex(client, config.Get().ElasticSearch.Refresh, config.Get().ElasticSearch.BulkPersistCount), nil
}

func NewIndex(client *elastic.Client, refresh string, bulkCount int) Index {
	if bulkCount <= 0 {
		bulkCount = 300
	}

	return index{
		client:     client,
		cache:      cache.New(5*time.Minute, 10*time.Minute),
		refresh:    refresh,
		bulkCount:  bulkCount,
		batchCount: 250,
		mu:         &sync.Mutex{},
		seq:        new(uint64),
	}
}

func newClient() (*elastic.Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(strings.Join(config.Get().ElasticSearch.Hosts, ",")),
		elastic.SetSniff(config.Get().ElasticSearch.Sniff),
		elastic.SetHealthcheck(config.Get().ElasticSearch.HealthCheck),
	}

	if config.Get().ElasticSearch.Debug {
		opts = append(opts, elastic.SetTraceLog(ElasticLogger{}))
	}

	if config.Get().ElasticSearch.Aws {
		creds := credentials.NewStaticCredentials(config.Get().Aws.AccessKey, config.Get().Aws.SecretKey, config.Get().Aws.Token)
		awsClient, err := aws_signing_client.New(v4.NewSigner(creds), nil, "es", config.Get().Aws.Region)
		if err != nil {
			return nil, err
		}

		opts = append(opts, elastic.SetHttpClient(awsClient))
		opts = append(opts, elastic.SetScheme("https"))
		return elastic.NewClient(opts...)
	}

	if config.Get().ElasticSearch.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(
			config.Get().ElasticSearch.Username,
			config.Get().ElasticSearch.Password,
		))
	}

	return elastic.NewClient(opts...)
}

func (i index) GetClient() *elastic.Client {
	return i.client
}

func (i index) InstallMappings(reindex bool) error {
	zap.L().Info("ElasticSearch: Install Mappings")

	files, err := mappings.ReadDir("mappings")
	if err != nil {
		return errors.Wrap(err, "elastic mappings directory error")
	}

	for _, f := range files {
		b, err := mappings.ReadFile("mappings/" + f.Name())
		if err != nil {
			return errors.Wrapf(err, "elastic mappings file error: %s", f.Name())
		}

		name := Indices(strings.TrimSuffix(f.Name(), filepath.Ext(f.Name())))
		if err = i.createIndex(name.Get(), b, reindex); err != nil {
			return errors.Wrapf(err, "failed to create index %s", name.Get())
		}
	}

	return nil
}

func (i index) createIndex(index string, mapping []byte, reindex bool) error {
	ctx := context.Background()
	client := i.client

	exists, err := client.IndexExists(index).Do(ctx)
	if err != nil {
		return err
	}

	if exists && reindex {
		zap.S().Infof("ElasticSearch: Deleting index %s", index)
		_, err = client.DeleteIndex(index).Do(ctx)
		if err != nil {
			return err
		}
		exists = false
	}

	if !exists {
		createIndex, err := client.CreateIndex(index).BodyString(string(mapping)).Do(ctx)
		if err != nil {
			return err
		}

		if createIndex.Acknowledged {
			zap.S().Infof("ElasticSearch: Created index %s", index)
		}
	}

	return nil
}

func (i index) AddIndexRequest(index string, entity entity.Entity, reqAction RequestAction) {
	zap.L().With(
		zap.String("index", index),
		zap.String("slug", entity.Slug()),
		zap.String("action", string(reqAction)),
	).Debug("ElasticSearch: AddIndexRequest")

	i.AddRequest(index, entity, IndexRequest, reqAction)
}

func (i index) AddDeleteRequest(index string, entity entity.Entity, reqAction RequestAction) {
	zap.L().With(
		zap.String("index", index),
		zap.String("slug", entity.Slug()),
		zap.String("action", string(reqAction)),
	).Debug("ElasticSearch: AddDeleteRequest")

	i.AddRequest(index, entity, DeleteRequest, reqAction)
}

// AddRequest buffers a request. A later request for the same document replaces the pending one.
func (i index) AddRequest(index string, entity entity.Entity, reqType RequestType, reqAction RequestAction) {
	i.mu.Lock()
	defer i.mu.Unlock()

	*i.seq++
	i.cache.Set(entity.Slug(), Request{index, entity, reqType, reqAction, *i.seq}, cache.NoExpiration)
}

func (i index) HasRequest(entity entity.Entity) bool {
	_, found := i.cache.Get(entity.Slug())

	return found
}

func (i index) GetRequests() []Request {
	requests := make([]Request, 0)

	for _, item := range i.cache.Items() {
		requests = append(requests, item.Object.(Request))
	}

	return requests
}

func (i index) GetRequest(id string) *Request {
	if item, found := i.cache.Get(id); found {
		req := item.(Request)
		return &req
	}

	return nil
}

func (i index) ClearRequests() {
	i.cache.Flush()
}

func (i index) BatchPersist() bool {
	if i.cache.ItemCount() < i.batchCount {
		return false
	}

	start := time.Now()
	actions, err := i.Persist()
	if err != nil {
		zap.L().With(zap.Error(err)).Error("ElasticSearch: Failed to persist batch")
		return false
	}

	zap.L().With(
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("actions", actions),
	).Info("ElasticSearch: Persisting data")

	return true
}

// Persist writes every buffered request in bulk and clears the buffer. Requests stay
// buffered when the cluster cannot be reached.
func (i index) Persist() (int, error) {
	requests := i.GetRequests()
	total := 0

	bulk := i.client.Bulk()
	for _, r := range requests {
		switch r.Type {
		case IndexRequest:
			bulk.Add(elastic.NewBulkIndexRequest().Index(r.Index).Id(r.Entity.Slug()).Doc(r.Entity))
		case DeleteRequest:
			bulk.Add(elastic.NewBulkDeleteRequest().Index(r.Index).Id(r.Entity.Slug()))
		}

		if bulk.NumberOfActions() >= i.bulkCount {
			total += bulk.NumberOfActions()
			if err := i.persist(bulk, 1); err != nil {
				return total, err
			}
			bulk = i.client.Bulk()
		}
	}

	if bulk.NumberOfActions() != 0 {
		total += bulk.NumberOfActions()
		if err := i.persist(bulk, 1); err != nil {
			return total, err
		}
	}

	i.forget(requests)

	return total, nil
}

// forget drops the persisted requests, keeping any that were replaced while the bulk was in flight.
func (i index) forget(requests []Request) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, r := range requests {
		slug := r.Entity.Slug()
		if item, found := i.cache.Get(slug); found && item.(Request).seq == r.seq {
			i.cache.Delete(slug)
		}
	}
}

func (i index) persist(bulk *elastic.BulkService, attempt int) error {
	zap.S().Debugf("ElasticSearch: Persisting %d actions", bulk.NumberOfActions())

	response, err := bulk.Refresh(i.refresh).Do(context.Background())
	if err != nil {
		if attempt >= persistAttempts {
			return errors.Wrap(err, "failed to persist requests")
		}
		if err.Error() == ErrTooManyRequests.Error() {
			zap.L().With(zap.Error(err)).Warn("ElasticSearch: 429 (Too Many Requests)")
		}
		time.Sleep(time.Duration(attempt) * time.Second)

		return i.persist(bulk, attempt+1)
	}

	for _, failed := range response.Failed() {
		if failed.Status == 404 {
			continue
		}
		zap.L().With(
			zap.Any("error", failed.Error),
			zap.String("index", failed.Index),
			zap.String("id", failed.Id),
		).Error("ElasticSearch: Failed to persist request")
	}

	return nil
}
