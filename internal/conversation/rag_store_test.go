package conversation

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
	"github.com/atendeai/clinic-assistant/pkg/logging"
)

type stubEmbeddingClient struct {
	nextVectors [][]float32
	err         error
	calls       int
}

func (s *stubEmbeddingClient) CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	s.calls++
	if s.err != nil {
		return openai.EmbeddingResponse{}, s.err
	}
	req := request.Convert()
	inputs, _ := req.Input.([]string)
	if len(inputs) == 0 {
		if single, ok := req.Input.(string); ok {
			inputs = []string{single}
		}
	}
	if len(s.nextVectors) < len(inputs) {
		return openai.EmbeddingResponse{}, errors.New("insufficient stub embeddings")
	}
	data := make([]openai.Embedding, len(inputs))
	for i := range inputs {
		data[i] = openai.Embedding{Embedding: s.nextVectors[i]}
	}
	return openai.EmbeddingResponse{Data: data}, nil
}

func TestSemanticStore_AddAndQuery(t *testing.T) {
	client := &stubEmbeddingClient{}
	store := NewSemanticStore(client, "text-embedding-3-small", logging.Default())

	client.nextVectors = [][]float32{
		{1, 0},
		{0, 1},
	}
	err := store.AddDocuments(context.Background(), "faq", []string{"Horário de funcionamento", "Política de cancelamento"})
	if err != nil {
		t.Fatalf("AddDocuments error: %v", err)
	}

	client.nextVectors = [][]float32{{0.9, 0.1}}
	results, err := store.Query(context.Background(), "faq", "que horas a clínica abre?", 2)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0] != "Horário de funcionamento" {
		t.Fatalf("expected hours doc first, got %s", results[0])
	}
}

func TestSemanticStore_GlobalNamespaceServesEveryQuery(t *testing.T) {
	client := &stubEmbeddingClient{}
	store := NewSemanticStore(client, "text-embedding-3-small", logging.Default())

	client.nextVectors = [][]float32{{1, 0}}
	if err := store.AddDocuments(context.Background(), "", []string{"Política de convênios"}); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	client.nextVectors = [][]float32{{1, 0}}
	results, err := store.Query(context.Background(), "outro", "convênio", 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 || results[0] != "Política de convênios" {
		t.Fatalf("expected global doc returned, got %#v", results)
	}
}

func TestSemanticStore_SeedEmbedsKnowledgeDocuments(t *testing.T) {
	kb := knowledge.New(knowledge.Default())
	docs := kb.Documents()

	client := &stubEmbeddingClient{nextVectors: make([][]float32, len(docs))}
	for i := range client.nextVectors {
		client.nextVectors[i] = []float32{1, 0}
	}
	store := NewSemanticStore(client, "", logging.Default())

	if err := store.Seed(context.Background(), kb); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("seed should embed in a single batch, got %d calls", client.calls)
	}
}

func TestSemanticStore_EmbeddingError(t *testing.T) {
	client := &stubEmbeddingClient{err: errors.New("boom")}
	store := NewSemanticStore(client, "text-embedding-3-small", logging.Default())

	if err := store.AddDocuments(context.Background(), "", []string{"a"}); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}
