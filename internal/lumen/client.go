package lumen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"lumen/backend/internal/config"
)

const (
	maxErrorBodyBytes   = 8 * 1024
	defaultQueryTimeout = 60 * time.Second
)

var (
	ErrMissingAPIKey = errors.New("lumen api token is not configured")
	// ErrMalformedResponse marks a 2xx reply without data.response.
	ErrMalformedResponse = errors.New("lumen response is missing data.response")
)

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("lumen returned %d: %s", e.StatusCode, e.Body)
}

type QueryRequest struct {
	Query         string         `json:"query"`
	Model         string         `json:"model"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	OutputSchema  map[string]any `json:"output_schema,omitempty"`
	SignatureType string         `json:"signature_type,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type QueryResponse struct {
	Response       string
	MissingContext []string
	Usage          *Usage
}

type PublicKeys struct {
	ECDSA json.RawMessage `json:"ecdsa,omitempty"`
	PQ    json.RawMessage `json:"pq,omitempty"`
}

type queryAPIResponse struct {
	Data *struct {
		Response       *string  `json:"response"`
		MissingContext []string `json:"missingContext"`
	} `json:"data"`
	Usage *queryAPIUsage `json:"usage,omitempty"`
}

type queryAPIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a gateway client. A nil httpClient gets one bounded by
// cfg.QueryTimeout so a stalled call always ends as an error.
func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		timeout := cfg.QueryTimeout
		if timeout <= 0 {
			timeout = defaultQueryTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return Client{
		token:      strings.TrimSpace(cfg.LumenToken),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.LumenBaseURL), "/"),
		httpClient: httpClient,
	}
}

func (c Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if strings.TrimSpace(c.token) == "" {
		return QueryResponse{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Query) == "" {
		return QueryResponse{}, errors.New("query is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return QueryResponse{}, errors.New("model is required")
	}
	req.Model = strings.TrimSpace(req.Model)

	payload, err := json.Marshal(req)
	if err != nil {
		return QueryResponse{}, errors.Wrap(err, "marshal lumen request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(payload))
	if err != nil {
		return QueryResponse{}, errors.Wrap(err, "build lumen request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return QueryResponse{}, errors.Wrap(err, "request lumen")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return QueryResponse{}, APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var parsed queryAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return QueryResponse{}, errors.Wrap(err, "decode lumen response")
	}
	if parsed.Data == nil || parsed.Data.Response == nil {
		return QueryResponse{}, ErrMalformedResponse
	}

	out := QueryResponse{
		Response:       *parsed.Data.Response,
		MissingContext: normalizeMissingContext(parsed.Data.MissingContext),
	}
	if parsed.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Keys fetches the gateway's public signature keys. The endpoint is public.
func (c Client) Keys(ctx context.Context) (PublicKeys, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/query/keys", nil)
	if err != nil {
		return PublicKeys{}, errors.Wrap(err, "build lumen keys request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PublicKeys{}, errors.Wrap(err, "request lumen keys")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return PublicKeys{}, APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var keys PublicKeys
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return PublicKeys{}, errors.Wrap(err, "decode lumen keys response")
	}
	return keys, nil
}

// normalizeMissingContext trims each gap and drops blanks, keeping order.
func normalizeMissingContext(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
