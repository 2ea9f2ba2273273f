// Package search maintains an in-memory full-text index over knowledge
// entries. The index is rebuilt from the store at startup and kept in sync by
// the handlers on insert, update and delete.
package search

import (
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/friendlyhq/friendly/internal/store"
)

type indexedEntry struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// Index wraps a memory-only bleve index keyed by knowledge entry ID.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx}, nil
}

func (ix *Index) Index(e store.KnowledgeEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.bleve.Index(e.ID, indexedEntry{Title: e.Title, Content: e.Content, Tags: e.Tags})
}

func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.bleve.Delete(id)
}

// Rebuild replaces the index contents with the given entries.
func (ix *Index) Rebuild(entries []store.KnowledgeEntry) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, e := range entries {
		if err := batch.Index(e.ID, indexedEntry{Title: e.Title, Content: e.Content, Tags: e.Tags}); err != nil {
			return err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return err
	}
	ix.mu.Lock()
	old := ix.bleve
	ix.bleve = idx
	ix.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Search returns up to k entry IDs ranked by relevance.
func (ix *Index) Search(q string, k int) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := ix.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
