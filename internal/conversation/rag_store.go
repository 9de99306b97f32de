package conversation

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Retriever exposes the snippet lookup the reply generator needs.
type Retriever interface {
	Query(ctx context.Context, namespace, query string, topK int) ([]string, error)
}

// SemanticStore keeps knowledge snippets and their embeddings in memory and
// retrieves by cosine similarity. Documents under the empty namespace are
// global and returned for every query.
type SemanticStore struct {
	client embeddingClient
	model  string
	logger *logging.Logger

	mu   sync.RWMutex
	docs map[string][]snippet
}

type snippet struct {
	content   string
	embedding []float32
}

// NewSemanticStore creates an empty store.
func NewSemanticStore(client embeddingClient, model string, logger *logging.Logger) *SemanticStore {
	if client == nil {
		panic("conversation: embedding client cannot be nil")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SemanticStore{
		client: client,
		model:  model,
		logger: logger,
		docs:   make(map[string][]snippet),
	}
}

// Seed embeds every knowledge base document into the global namespace. Called
// once at startup, before the store serves queries.
func (s *SemanticStore) Seed(ctx context.Context, kb *knowledge.Base) error {
	docs := kb.Documents()
	s.logger.Info("seeding semantic store", "documents", len(docs))
	return s.AddDocuments(ctx, "", docs)
}

// AddDocuments embeds and stores the contents under a namespace.
func (s *SemanticStore) AddDocuments(ctx context.Context, namespace string, contents []string) error {
	if len(contents) == 0 {
		return nil
	}

	resp, err := s.client.CreateEmbeddings(ctx, &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: contents,
	})
	if err != nil {
		return err
	}
	if len(resp.Data) != len(contents) {
		return errors.New("conversation: embedding response size mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range resp.Data {
		s.docs[namespace] = append(s.docs[namespace], snippet{
			content:   contents[i],
			embedding: item.Embedding,
		})
	}
	return nil
}

// Query returns the topK most similar snippets from the namespace plus the
// global namespace.
func (s *SemanticStore) Query(ctx context.Context, namespace, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 3
	}
	resp, err := s.client.CreateEmbeddings(ctx, &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: []string{query},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	queryVec := resp.Data[0].Embedding

	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := append([]snippet(nil), s.docs[namespace]...)
	if namespace != "" {
		candidates = append(candidates, s.docs[""]...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	type scored struct {
		score   float64
		content string
	}
	results := make([]scored, 0, len(candidates))
	for _, doc := range candidates {
		results = append(results, scored{
			score:   cosineSimilarity(queryVec, doc.embedding),
			content: doc.content,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	limit := topK
	if len(results) < limit {
		limit = len(results)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].content
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
