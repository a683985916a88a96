package fragment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Dimension is the fixed vector length established at store creation
// (§3.5's D). The hash fallback fixes D=256, so the HTTP-provider path
// must agree or be rejected (§4.10).
const Dimension = 256

// Embedder produces a fixed-length vector for (title, body), the preimage
// invariant of §3.5. Grounded on agents/rag/embedder.go's Embedder: an
// HTTP provider tier (an API key in the environment) with a deterministic
// sha256 feature-hashing fallback tier for offline/dev use.
type Embedder struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewEmbedder builds an Embedder. If FRAGMENT_EMBEDDING_API_KEY is unset,
// Embed always uses the hash-based fallback.
func NewEmbedder() *Embedder {
	return &Embedder{
		apiKey:     os.Getenv("FRAGMENT_EMBEDDING_API_KEY"),
		endpoint:   envOr("FRAGMENT_EMBEDDING_ENDPOINT", "https://api.voyageai.com/v1/embeddings"),
		model:      envOr("FRAGMENT_EMBEDDING_MODEL", "voyage-3"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Embed produces a Dimension-length vector for the concatenation of title
// and body.
func (e *Embedder) Embed(ctx context.Context, title, body string) ([]float32, error) {
	text := title + "\n\n" + body
	if e.apiKey == "" {
		return hashVector(text), nil
	}

	vec, err := e.providerEmbed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != Dimension {
		return nil, fmt.Errorf("embedding provider returned %d dimensions, want %d", len(vec), Dimension)
	}
	return vec, nil
}

func (e *Embedder) providerEmbed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"input": []string{text},
		"model": e.model,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return parsed.Data[0].Embedding, nil
}

// hashVector is the offline fallback: deterministic feature hashing over
// unigrams and bigrams into a Dimension-length vector, normalized to unit
// magnitude. Adapted from agents/rag/embedder.go's textToHashVector.
func hashVector(text string) []float32 {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)

	features := make(map[string]int)
	for _, w := range words {
		features[w]++
	}
	for i := 0; i < len(words)-1; i++ {
		features[words[i]+" "+words[i+1]]++
	}

	vector := make([]float32, Dimension)
	var magnitude float64
	for feature, count := range features {
		hash := sha256.Sum256([]byte(feature))
		idx := (int(hash[0])<<8 | int(hash[1])) % Dimension
		sign := float32(1.0)
		if hash[4]&1 == 1 {
			sign = -1.0
		}
		vector[idx] += sign * float32(count)
	}
	for _, v := range vector {
		magnitude += float64(v * v)
	}
	if magnitude > 0 {
		inv := float32(1.0 / math.Sqrt(magnitude))
		for i := range vector {
			vector[i] *= inv
		}
	}
	return vector
}
