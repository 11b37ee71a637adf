package search

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type bulkServer struct {
	mu      sync.Mutex
	indexed map[string]Document
	deleted []string
	// rejectID отвечает 400 на индексацию документа с этим id.
	rejectID string
}

func (s *bulkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost || r.URL.Path != "/_bulk" {
		_, _ = w.Write([]byte(`{}`))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []map[string]map[string]any
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for name, meta := range action {
			id, _ := meta["_id"].(string)
			switch name {
			case "index":
				scanner.Scan()
				var doc Document
				_ = json.Unmarshal(scanner.Bytes(), &doc)
				status := http.StatusCreated
				result := map[string]any{"_id": id, "status": status}
				if id == s.rejectID {
					result["status"] = http.StatusBadRequest
					result["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": "bad title"}
				} else {
					s.indexed[id] = doc
				}
				items = append(items, map[string]map[string]any{"index": result})
			case "delete":
				s.deleted = append(s.deleted, id)
				items = append(items, map[string]map[string]any{"delete": {"_id": id, "status": http.StatusNotFound}})
			}
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": s.rejectID != "", "items": items})
}

func newIndexer(t *testing.T, srv *bulkServer) (*ElasticIndexer, domain.CatalogRepository) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	catalog := memory.NewCatalogRepository(memory.NewStore())
	indexer, err := NewElasticIndexer(Config{Addresses: []string{ts.URL}}, catalog)
	require.NoError(t, err)
	return indexer, catalog
}

func TestReindex_IndexesActiveDeletesInactive(t *testing.T) {
	srv := &bulkServer{indexed: map[string]Document{}}
	indexer, catalog := newIndexer(t, srv)
	ctx := context.Background()

	active, err := catalog.CreateProduct(ctx, domain.Product{Article: "A-1", Title: "Дрель", Slug: "drel", Active: true, InStock: true})
	require.NoError(t, err)
	_, err = catalog.CreateProduct(ctx, domain.Product{Article: "B-1", Title: "Пила", Slug: "pila"})
	require.NoError(t, err)

	require.NoError(t, indexer.Reindex(ctx))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.indexed, 1)
	doc := srv.indexed["1"]
	require.Equal(t, active.ID, doc.ID)
	require.Equal(t, "A-1", doc.Article)
	require.True(t, doc.InStock)
	require.Equal(t, []string{"2"}, srv.deleted, "missing document on delete is not an error")
}

func TestReindex_RejectedDocumentFails(t *testing.T) {
	srv := &bulkServer{indexed: map[string]Document{}, rejectID: "1"}
	indexer, catalog := newIndexer(t, srv)
	ctx := context.Background()

	_, err := catalog.CreateProduct(ctx, domain.Product{Article: "A-1", Title: "Дрель", Slug: "drel", Active: true})
	require.NoError(t, err)

	err = indexer.Reindex(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 documents rejected")
}

func TestNewElasticIndexer_RequiresAddresses(t *testing.T) {
	_, err := NewElasticIndexer(Config{}, nil)
	require.Error(t, err)
}
