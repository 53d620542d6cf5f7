// Package generator is the HTTP client for the external AI code
// generation backend.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// ErrMalformedResponse signals the backend returned a partial or invalid
// generation result. Callers treat this as a generation failure, not a
// transport error.
var ErrMalformedResponse = errors.New("malformed generator response")

// File is one generated source file, content included.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// Result is a complete generation output.
type Result struct {
	Files           []File `json:"files"`
	PackageManifest string `json:"package_manifest"`
	Readme          string `json:"readme"`
	TotalFiles      int    `json:"total_files"`
	TotalLines      int    `json:"total_lines"`
	TokensUsed      int    `json:"tokens_used"`
}

// Client calls the generation backend over HTTP.
type Client struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewClient constructs a generator client. The http.Client's timeout is the
// transport ceiling; per-call deadlines come from the caller's context.
func NewClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("generator endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse generator endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if log == nil {
		log = logger.NewDefault("generator-client")
	}
	return &Client{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// Generate submits the project spec and returns the validated result.
func (c *Client) Generate(ctx context.Context, spec order.ProjectSpec) (Result, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return Result{}, fmt.Errorf("marshal spec: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("generator status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := Validate(result); err != nil {
		return Result{}, err
	}

	c.log.WithField("project", spec.Name).
		WithField("files", result.TotalFiles).
		Info("generation completed")
	return result, nil
}

// Validate rejects partial generator output: the file list must be
// non-empty and the reported file count numeric and positive.
func Validate(result Result) error {
	if len(result.Files) == 0 {
		return fmt.Errorf("%w: empty file list", ErrMalformedResponse)
	}
	if result.TotalFiles <= 0 {
		return fmt.Errorf("%w: non-positive file count", ErrMalformedResponse)
	}
	for _, f := range result.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file with empty path", ErrMalformedResponse)
		}
	}
	return nil
}
