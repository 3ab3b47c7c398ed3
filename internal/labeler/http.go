package labeler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	_ "golang.org/x/image/webp"

	"github.com/roach88/labelcache/internal/model"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxImageBytes      = 15 << 20
	maxResponseBytes   = 1 << 20
)

// HTTPLabeler calls a JSON labeling endpoint.
//
// Request:  {"contentLocator": "...", "maxLabels": N, "image": "<base64>"}
// Response: {"labels": [{"name": "...", "confidence": 0-100}]}
//
// The image field is only sent when a content source is configured.
type HTTPLabeler struct {
	endpoint string
	client   *http.Client
	content  afero.Fs
}

// HTTPOption configures an HTTPLabeler.
type HTTPOption func(*HTTPLabeler)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPLabeler) { h.client = c }
}

// WithContentSource inlines object bytes read from fs (laid out as
// <bucket>/<key>) and rejects undecodable images before calling out.
func WithContentSource(fs afero.Fs) HTTPOption {
	return func(h *HTTPLabeler) { h.content = fs }
}

// NewHTTPLabeler creates a labeler posting to endpoint.
func NewHTTPLabeler(endpoint string, opts ...HTTPOption) *HTTPLabeler {
	h := &HTTPLabeler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type labelRequest struct {
	ContentLocator string `json:"contentLocator"`
	MaxLabels      int    `json:"maxLabels"`
	Image          []byte `json:"image,omitempty"`
}

type labelResponse struct {
	Labels []model.Label `json:"labels"`
}

// DetectLabels posts one labeling request.
func (h *HTTPLabeler) DetectLabels(ctx context.Context, loc model.Locator, maxLabels int) ([]model.Label, error) {
	const op = "http_labeler.detect_labels"

	req := labelRequest{ContentLocator: loc.URL(), MaxLabels: maxLabels}
	if h.content != nil {
		data, err := h.readImage(loc)
		if err != nil {
			return nil, err
		}
		req.Image = data
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, model.Classify(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.NotFound(op, loc, fmt.Errorf("labeling service: %s", resp.Status))
	case resp.StatusCode == http.StatusUnsupportedMediaType, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, model.Malformed(op, loc, fmt.Errorf("labeling service: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, model.Transient(op, fmt.Errorf("labeling service: %s", resp.Status))
	}

	var out labelResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, model.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return out.Labels, nil
}

// readImage loads the object and checks that it decodes as an image.
func (h *HTTPLabeler) readImage(loc model.Locator) ([]byte, error) {
	const op = "http_labeler.read_image"

	f, err := h.content.Open(loc.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.NotFound(op, loc, err)
	}
	if err != nil {
		return nil, model.Transient(op, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, model.Transient(op, err)
	}
	if len(data) > maxImageBytes {
		return nil, model.Malformed(op, loc, fmt.Errorf("image exceeds %d bytes", maxImageBytes))
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, model.Malformed(op, loc, err)
	}
	return data, nil
}
