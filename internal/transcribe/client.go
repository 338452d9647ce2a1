// Package transcribe talks to the hosted transcription endpoint: one multipart
// POST per request, JSON response normalised to filename -> transcript.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrBackend is returned for any non-2xx response. The text is what the UI shows.
	ErrBackend = errors.New("Backend error")
	// ErrUnrecognizedShape is returned when the response body matches none of the known shapes.
	ErrUnrecognizedShape = errors.New("unrecognized response shape")
	// ErrMissingResult is returned when a recognised response has no entry for a file.
	ErrMissingResult = errors.New("no transcript for file in response")
)

// DefaultFieldName is the multipart field the endpoint reads files from.
const DefaultFieldName = "files"

// File is one audio file to upload.
type File struct {
	Name      string
	MediaType string
	Open      func() (io.ReadCloser, error)
}

// Result is the per-file outcome of a batched request.
type Result struct {
	Transcript string
	Err        error
}

// ProgressFunc receives the number of request body bytes sent so far.
type ProgressFunc func(sent, total int64)

// Client posts audio to a fixed endpoint.
type Client struct {
	endpoint   string
	fieldName  string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request. Zero means no timeout beyond the transport's own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithToken sends the token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithFieldName overrides the multipart field name.
func WithFieldName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.fieldName = name
		}
	}
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		fieldName:  DefaultFieldName,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Transcribe uploads a single file and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, f File, progress ProgressFunc) (string, error) {
	results, err := c.TranscribeAll(ctx, []File{f}, progress)
	if err != nil {
		return "", err
	}
	r := results[f.Name]
	return r.Transcript, r.Err
}

// TranscribeAll uploads all files in one request. A returned error applies to
// every file; otherwise each file has its own Result.
func (c *Client) TranscribeAll(ctx context.Context, files []File, progress ProgressFunc) (map[string]Result, error) {
	if len(files) == 0 {
		return map[string]Result{}, nil
	}

	body, contentType, err := c.buildBody(files)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe: %w", err)
	}

	total := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &progressReader{r: body, total: total, fn: progress})
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		fmt.Printf("[Transcribe] %d file(s) rejected with HTTP %d after %s\n", len(files), resp.StatusCode, time.Since(start).Round(time.Millisecond))
		return nil, ErrBackend
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe: reading response: %w", err)
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	texts, err := NormalizeResult(data, names)
	if err != nil {
		fmt.Printf("[Transcribe] %s (%d bytes)\n", err, len(data))
		return nil, err
	}

	results := make(map[string]Result, len(files))
	for _, name := range names {
		if text, ok := texts[name]; ok {
			results[name] = Result{Transcript: text}
		} else {
			results[name] = Result{Err: fmt.Errorf("%w: %s", ErrMissingResult, name)}
		}
	}
	return results, nil
}

// buildBody writes every file as a part of the configured field.
func (c *Client) buildBody(files []File) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(c.fieldName), quoteEscaper.Replace(f.Name)))
		h.Set("Content-Type", partContentType(f))

		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if err := copyFile(pw, f); err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func copyFile(w io.Writer, f File) error {
	if f.Open == nil {
		return errors.New("no content")
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partContentType(f File) string {
	if f.MediaType != "" {
		return f.MediaType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// progressReader reports bytes handed to the transport.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
