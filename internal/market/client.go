package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is used when the configuration leaves the endpoint empty.
const DefaultEndpoint = "https://kp.itzdrli.cc"

// ErrBadStatus is returned for non-2xx catalog responses.
var ErrBadStatus = errors.New("market: unexpected http status")

const maxCatalogBytes = 64 << 20

// Client fetches the catalog over HTTP. A fetch either returns a complete
// catalog or an error; there is no retry.
type Client struct {
	Endpoint  string
	HTTP      *http.Client
	UserAgent string
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		Endpoint:  endpoint,
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: "marketwatch",
	}
}

func (c *Client) Fetch(ctx context.Context) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, http.NoBody)
	if err != nil {
		return Catalog{}, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Catalog{}, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Catalog{}, fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, c.Endpoint)
	}

	cat, err := DecodeCatalog(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return Catalog{}, fmt.Errorf("fetch catalog: %w", err)
	}
	return cat, nil
}

// DecodeCatalog parses one catalog document. Unknown fields are ignored; the
// catalog carries far more than this package reads.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	var cat Catalog
	if err := json.NewDecoder(r).Decode(&cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return cat, nil
}
