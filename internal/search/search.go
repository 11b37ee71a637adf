// Package search переиндексирует каталог во внешнем поисковом движке (Elasticsearch).
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultIndex — индекс товаров по умолчанию.
const DefaultIndex = "products"

// Config задаёт подключение к кластеру.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Transport подменяет HTTP-транспорт клиента (тесты, прокси).
	Transport http.RoundTripper
}

// Document — товар в поисковом индексе.
type Document struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Article     string `json:"article"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	CategoryID  int64  `json:"category_id,omitempty"`
	BrandID     int64  `json:"brand_id,omitempty"`
	InStock     bool   `json:"in_stock"`
}

// ElasticIndexer полностью синхронизирует индекс с каталогом: активные товары
// индексируются, неактивные удаляются.
type ElasticIndexer struct {
	client  *elasticsearch.Client
	catalog domain.CatalogRepository
	index   string
	logger  *log.Entry
}

// NewElasticIndexer создаёт индексатор.
func NewElasticIndexer(cfg Config, catalog domain.CatalogRepository) (*ElasticIndexer, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses are required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	return &ElasticIndexer{
		client:  client,
		catalog: catalog,
		index:   index,
		logger:  log.WithField("component", "search-indexer"),
	}, nil
}

// Reindex отправляет каталог одним bulk-потоком. Удаление отсутствующего документа не считается ошибкой.
func (i *ElasticIndexer) Reindex(ctx context.Context) error {
	products, _, err := i.catalog.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	var failed atomic.Int64
	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: i.client,
		Index:  i.index,
		OnError: func(_ context.Context, err error) {
			i.logger.WithError(err).Error("bulk request failed")
		},
	})
	if err != nil {
		return fmt.Errorf("create bulk indexer: %w", err)
	}

	onFailure := func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
		if item.Action == "delete" && res.Status == http.StatusNotFound {
			return
		}
		failed.Add(1)
		entry := i.logger.WithField("document_id", item.DocumentID)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.WithField("reason", res.Error.Reason).Warn("search document rejected")
	}

	var indexed, deleted int
	for _, p := range products {
		item := esutil.BulkIndexerItem{
			DocumentID: strconv.FormatInt(p.ID, 10),
			OnFailure:  onFailure,
		}
		if p.Active {
			body, err := json.Marshal(toDocument(p))
			if err != nil {
				return fmt.Errorf("marshal search document: %w", err)
			}
			item.Action = "index"
			item.Body = bytes.NewReader(body)
			indexed++
		} else {
			item.Action = "delete"
			deleted++
		}
		if err := bulk.Add(ctx, item); err != nil {
			_ = bulk.Close(ctx)
			return fmt.Errorf("add bulk item: %w", err)
		}
	}
	if err := bulk.Close(ctx); err != nil {
		return fmt.Errorf("flush bulk indexer: %w", err)
	}

	stats := bulk.Stats()
	i.logger.WithFields(log.Fields{
		"indexed": indexed,
		"deleted": deleted,
		"flushed": stats.NumFlushed,
		"failed":  failed.Load(),
	}).Info("search index synchronized")
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("search reindex: %d documents rejected", n)
	}
	return nil
}

func toDocument(p domain.Product) Document {
	return Document{
		ID:          p.ID,
		Title:       p.Title,
		Article:     p.Article,
		Slug:        p.Slug,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		BrandID:     p.BrandID,
		InStock:     p.InStock,
	}
}

var _ domain.SearchIndexer = (*ElasticIndexer)(nil)
