package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HostedConfig configures the account-based image host.
type HostedConfig struct {
	AccountID string
	Token     string
	// Endpoint overrides the upload URL; "%s" is replaced with the
	// account id. Defaults to the hosted API's standard upload path.
	Endpoint string
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

const defaultEndpointTemplate = "https://api.imagehost.io/v1/accounts/%s/uploads"

// Hosted uploads by reference to the external image host: the host
// fetches the source URL itself, so image bytes never pass through the
// crawler.
type Hosted struct {
	cfg      HostedConfig
	endpoint string
	client   *http.Client
}

// NewHosted builds a Hosted provider.
func NewHosted(cfg HostedConfig) (*Hosted, error) {
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("mirror account_id and token are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpointTemplate
	}
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, cfg.AccountID)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Hosted{cfg: cfg, endpoint: endpoint, client: client}, nil
}

// Mirror implements Provider. The remote answering "duplicate" counts as
// a failure: the image is already hosted but we cannot learn its id from
// this response, and the stored mirror id must never be guessed.
func (h *Hosted) Mirror(ctx context.Context, imageURL string, meta Meta) (string, error) {
	form := url.Values{}
	form.Set("source", imageURL)
	form.Set("name", fmt.Sprintf("%s-%d", meta.Handle, meta.Position))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", imageURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload %s: status %d", imageURL, resp.StatusCode)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("upload %s: empty id in response", imageURL)
	}
	return payload.ID, nil
}

// Close implements Provider.
func (h *Hosted) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
