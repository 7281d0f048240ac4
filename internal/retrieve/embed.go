package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
)

// Embedder produces embedding vectors for question and schema text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPEmbedder calls the sidecar /embed_batch endpoint. Transient failures
// are retried with exponential backoff; anything that survives the retries
// surfaces as retrieval_unavailable.
type HTTPEmbedder struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPEmbedder builds an embedder against the sidecar base URL.
func NewHTTPEmbedder(baseURL string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input text, in order.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	var out embedResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/embed_batch", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("embed service returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("embed service returned %d: %s", resp.StatusCode, msg))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fault.New(fault.KindRetrievalUnavailable, "embedding service: %v", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fault.New(fault.KindRetrievalUnavailable,
			"embedding service returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
