// Package engine is the client for the external document partitioning engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/models"
)

// PartitionPath is the engine's general partitioning endpoint.
const PartitionPath = "/general/v0/general"

// Options is the fixed per-run engine configuration.
type Options struct {
	Strategy            string
	InferTableStructure bool
	IncludePageBreaks   bool
	ExtractImages       bool
	OCRLanguages        []string
}

// DefaultOptions is high-resolution layout with table inference, page
// breaks and no embedded image extraction.
func DefaultOptions(strategy string, languages []string) Options {
	if strategy == "" {
		strategy = "hi_res"
	}
	return Options{
		Strategy:            strategy,
		InferTableStructure: true,
		IncludePageBreaks:   true,
		ExtractImages:       false,
		OCRLanguages:        languages,
	}
}

// Partitioner turns a document into a sequence of elements.
type Partitioner interface {
	Partition(ctx context.Context, path string, opts Options) ([]models.Element, error)
}

// Error is a failed engine call for one file.
type Error struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("engine failed for %s (status %d): %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("engine failed for %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure looks like engine overload or a
// network problem rather than a problem with the document.
func (e *Error) Transient() bool {
	switch e.StatusCode {
	case 0:
		return true
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Client calls the engine's HTTP API.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient returns a Client for the engine at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Partition uploads path and decodes the returned elements.
func (c *Client) Partition(ctx context.Context, path string, opts Options) ([]models.Element, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to open document: %w", err)}
	}
	defer f.Close()

	body, contentType := multipartBody(f, filepath.Base(path), opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PartitionPath, body)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("unstructured-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to make HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet))),
		}
	}

	var elements []models.Element
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, &Error{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode elements: %w", err)}
	}
	return elements, nil
}

// multipartBody streams the document so large files are never held in memory.
func multipartBody(doc io.Reader, filename string, opts Options) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, doc, filename, opts)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeForm(mw *multipart.Writer, doc io.Reader, filename string, opts Options) error {
	fields := [][2]string{
		{"strategy", opts.Strategy},
		{"coordinates", "true"},
		{"pdf_infer_table_structure", strconv.FormatBool(opts.InferTableStructure)},
		{"include_page_breaks", strconv.FormatBool(opts.IncludePageBreaks)},
	}
	if opts.ExtractImages {
		fields = append(fields, [2]string{"extract_image_block_types", `["Image"]`})
	}
	for _, lang := range opts.OCRLanguages {
		fields = append(fields, [2]string{"languages", lang})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", kv[0], err)
		}
	}

	part, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, doc); err != nil {
		return fmt.Errorf("failed to stream document: %w", err)
	}
	return nil
}
