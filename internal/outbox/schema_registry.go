package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const schemaRegistryContentType = "application/vnd.schemaregistry.v1+json"

// SchemaRegistryClient registers the JSON schemas of outbox events with a
// Confluent-compatible schema registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client with a ten second timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema registers schema under subject and returns its ID. When the
// registry refuses the registration the latest registered version is used.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	id, err := c.register(ctx, subject, schema)
	if err == nil {
		return id, nil
	}
	if latest, lookupErr := c.fetchLatest(ctx, subject); lookupErr == nil {
		return latest, nil
	}
	return 0, err
}

func (c *SchemaRegistryClient) fetchLatest(ctx context.Context, subject string) (int, error) {
	status, id, body, err := c.do(ctx, http.MethodGet, subject, "/versions/latest", nil)
	switch {
	case err != nil:
		return 0, err
	case status == http.StatusNotFound:
		return 0, fmt.Errorf("schema subject %q not found", subject)
	case status >= 300:
		return 0, fmt.Errorf("schema registry error: %s", body)
	}
	return id, nil
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	payload, err := json.Marshal(map[string]any{"schemaType": "JSON", "schema": schema})
	if err != nil {
		return 0, err
	}
	status, id, body, err := c.do(ctx, http.MethodPost, subject, "/versions", payload)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("schema registry register error: %s", body)
	}
	return id, nil
}

// do calls /subjects/<subject><suffix> and decodes the schema id of a
// successful answer. Error bodies are returned raw.
func (c *SchemaRegistryClient) do(ctx context.Context, method, subject, suffix string, payload []byte) (int, int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	endpoint := c.baseURL + "/subjects/" + url.PathEscape(subject) + suffix
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", schemaRegistryContentType)
	}
	req.Header.Set("Accept", schemaRegistryContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, 0, body, nil
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, 0, nil, fmt.Errorf("decode schema registry response: %w", err)
	}
	return resp.StatusCode, out.ID, nil, nil
}
