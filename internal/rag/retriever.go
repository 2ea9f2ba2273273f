// Package rag implements the retrieval-augmented chat core: embedding-based
// document retrieval, grounded prompt assembly and the per-message
// orchestration loop including the knowledge write-back.
package rag

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/friendlyhq/friendly/internal/store"
)

// ScoredDoc is a ranked knowledge hit. Transient: produced by the retriever,
// consumed only by prompt assembly.
type ScoredDoc struct {
	Title   string
	Content string
	Score   float64
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeScanner loads the knowledge projections the retriever ranks over.
type KnowledgeScanner interface {
	ScanKnowledgeProjections(ctx context.Context, approvedOnly bool) ([]store.KnowledgeProjection, error)
}

// Retriever ranks knowledge entries against a query by cosine similarity.
// Brute force over the full corpus; fine at the scale this serves.
type Retriever struct {
	Embedder  Embedder
	Knowledge KnowledgeScanner
	// ApprovedOnly excludes unapproved entries from ranking. Off by default,
	// which lets unreviewed AI write-backs feed later retrievals.
	ApprovedOnly bool
	Logger       *log.Logger
}

func NewRetriever(embedder Embedder, knowledge KnowledgeScanner, approvedOnly bool, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Retriever{Embedder: embedder, Knowledge: knowledge, ApprovedOnly: approvedOnly, Logger: logger}
}

// FindRelevantDocs returns the topK most similar knowledge entries, sorted by
// strictly non-increasing score; ties keep retrieval order. When the query
// embedding is unavailable it returns an empty result and no error so callers
// degrade to an unaugmented prompt.
func (r *Retriever) FindRelevantDocs(ctx context.Context, query string, topK int) ([]ScoredDoc, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryVec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		r.Logger.Printf("query embedding unavailable, skipping retrieval: %v", err)
		return nil, nil
	}

	projections, err := r.Knowledge.ScanKnowledgeProjections(ctx, r.ApprovedOnly)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredDoc, 0, len(projections))
	for _, p := range projections {
		// entries without an embedding cannot be ranked; including them
		// would divide by a zero norm
		if len(p.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredDoc{
			Title:   p.Title,
			Content: p.Content,
			Score:   CosineSimilarity(queryVec, p.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// CosineSimilarity computes dot(a,b) / (‖a‖·‖b‖) over the shared prefix of the
// two vectors. Returns 0 when either norm is zero.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
