// Package embed talks to the image embedding service that turns a fashion
// image into a vector plus a classifier label and confidence.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/styleradar/pkg/cluster"
)

// Embedding is the service's answer for one image.
type Embedding struct {
	Vector cluster.Vector
	Label  string
	// Confidence is the classifier's confidence in Label, 0-100.
	Confidence float64
}

// Embedder produces embeddings for image URLs.
type Embedder interface {
	Embed(ctx context.Context, imageURL string) (*Embedding, error)
}

type embedRequest struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// Options tunes a Client. Zero values pick defaults.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client calls the embedding service over HTTP.
type Client struct {
	endpoint string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a client for endpoint, e.g. "http://localhost:8000".
func NewClient(endpoint, model string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Available reports whether the service answers its health check.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Embed requests the embedding of the image at imageURL.
func (c *Client) Embed(ctx context.Context, imageURL string) (*Embedding, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed: rate limiter: %w", err)
	}

	jsonBody, err := json.Marshal(embedRequest{Model: c.model, ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("embed: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("embed: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("embed: failed to parse response: %w", err)
	}
	if len(er.Embedding) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned for %s", imageURL)
	}
	if math.IsNaN(er.Confidence) || er.Confidence < 0 || er.Confidence > 100 {
		return nil, fmt.Errorf("embed: confidence %v outside [0, 100]", er.Confidence)
	}

	return &Embedding{
		Vector:     cluster.FromFloat32(er.Embedding),
		Label:      er.Label,
		Confidence: er.Confidence,
	}, nil
}
