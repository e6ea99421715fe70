package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyEnv = "TEST_EMBEDDINGS_API_KEY"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv(testKeyEnv, "test-key")
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: testKeyEnv})
	require.NoError(t, err)
	return c
}

func embeddingResponse(vec []float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"embedding":[`)
		for i, v := range vec {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%g", v)
		}
		fmt.Fprint(w, `]}]}`)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	_, err := New(Config{APIKeyEnv: testKeyEnv})
	require.Error(t, err)
}

func TestEmbedReturnsVector(t *testing.T) {
	c := newTestClient(t, embeddingResponse([]float32{0.25, -0.5, 1}))

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
	assert.Equal(t, 3, c.Dimensions())
}

func TestEmbedErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	})

	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 0, c.Dimensions())
}

func TestConcurrentEmbedsAgreeOnDimensions(t *testing.T) {
	c := newTestClient(t, embeddingResponse([]float32{0.1, 0.2, 0.3, 0.4}))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Embed(context.Background(), fmt.Sprintf("text %d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 4, c.Dimensions())
}
