package openaiembed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"
	openai "github.com/sashabaranov/go-openai"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	return &Model{client: openai.NewClientWithConfig(cfg), model: openai.SmallEmbedding3}
}

func TestEmbedReturnsAPIResponse(t *testing.T) {
	is := is.New(t)
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.EmbeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		resp := openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	got, err := m.Embed("turn on the lights")
	is.NoErr(err)
	is.Equal(len(got), 3)
	is.Equal(got[0], float32(0.1))
}

func TestNewRequiresAPIKey(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New("")
	is.True(err != nil)
}

func TestNewFallsBackToEnvironmentKey(t *testing.T) {
	is := is.New(t)
	t.Setenv("OPENAI_API_KEY", "env-key")
	m, err := New("")
	is.NoErr(err)
	is.True(m != nil)
}
