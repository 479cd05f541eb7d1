package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Screenshotter turns a markup document into an image.
type Screenshotter interface {
	Screenshot(ctx context.Context, document string) ([]byte, error)
}

// ErrScreenshot wraps failures reported by the screenshot service.
var ErrScreenshot = errors.New("render: screenshot failed")

const maxImageBytes = 32 << 20

// ScreenshotClient talks to a browserless-compatible "/screenshot" endpoint:
// it POSTs the document as JSON and expects the PNG bytes back.
type ScreenshotClient struct {
	Endpoint string
	Token    string
	Width    int
	HTTP     *http.Client
}

// DefaultScreenshotTimeout bounds one screenshot request when none is set.
const DefaultScreenshotTimeout = 60 * time.Second

func NewScreenshotClient(endpoint, token string, width int, timeout time.Duration) *ScreenshotClient {
	if width <= 0 {
		width = 1280
	}
	if timeout <= 0 {
		timeout = DefaultScreenshotTimeout
	}
	return &ScreenshotClient{
		Endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		Token:    token,
		Width:    width,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type screenshotRequest struct {
	HTML     string             `json:"html"`
	Options  screenshotOptions  `json:"options"`
	Viewport screenshotViewport `json:"viewport"`
}

type screenshotOptions struct {
	Type     string `json:"type"`
	FullPage bool   `json:"fullPage"`
}

type screenshotViewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c *ScreenshotClient) url() string {
	u := c.Endpoint
	if !strings.HasSuffix(u, "/screenshot") {
		u += "/screenshot"
	}
	if c.Token != "" {
		u += "?token=" + url.QueryEscape(c.Token)
	}
	return u
}

func (c *ScreenshotClient) Screenshot(ctx context.Context, document string) ([]byte, error) {
	body, err := json.Marshal(screenshotRequest{
		HTML:     document,
		Options:  screenshotOptions{Type: "png", FullPage: true},
		Viewport: screenshotViewport{Width: c.Width, Height: 720},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultScreenshotTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenshot, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrScreenshot, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: http=%d: %s", ErrScreenshot, resp.StatusCode, strings.TrimSpace(truncate(string(data), 200)))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrScreenshot)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
