// Package client calls the pixelgate HTTP API. A Client keeps its session
// token in memory; nothing is shared between clients.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/pixelgate/internal/auth"
	"github.com/dunamismax/pixelgate/internal/domain"
)

const DefaultBaseURL = "http://localhost:4000"

// ErrNotLoggedIn is returned by image calls made before Login.
var ErrNotLoggedIn = errors.New("not logged in")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Step is one pipeline operation as sent over the wire.
type Step struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Image is a processed image returned by the API.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

type Client struct {
	baseURL string
	http    *http.Client

	mu      sync.RWMutex
	session *auth.Session
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("base url must start with http:// or https://: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Register(ctx context.Context, email, password string) (domain.Identity, error) {
	var identity domain.Identity
	if err := c.postJSON(ctx, "/auth/register", credentials(email, password), &identity); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

// Login authenticates and keeps the returned token for later image calls.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var session auth.Session
	if err := c.postJSON(ctx, "/auth/login", credentials(email, password), &session); err != nil {
		return auth.Session{}, err
	}
	if session.Token == "" {
		return auth.Session{}, errors.New("login response carried no token")
	}

	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	return session, nil
}

func (c *Client) Logout() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// Session returns the current session, if any.
func (c *Client) Session() (auth.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return auth.Session{}, false
	}
	return *c.session, true
}

// Process uploads image to /images/<operation> with the given form fields.
func (c *Client) Process(ctx context.Context, operation, filename string, image []byte, fields map[string]string) (Image, error) {
	session, ok := c.Session()
	if !ok {
		return Image{}, ErrNotLoggedIn
	}

	body, contentType, err := multipartBody(filename, image, fields)
	if err != nil {
		return Image{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/"+operation, body)
	if err != nil {
		return Image{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("post %s: %w", operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Image{}, decodeAPIError(resp.StatusCode, data)
	}
	return Image{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    attachmentName(resp.Header.Get("Content-Disposition")),
	}, nil
}

// Pipeline uploads image with steps encoded in the operations field.
func (c *Client) Pipeline(ctx context.Context, filename string, image []byte, steps []Step) (Image, error) {
	encoded, err := json.Marshal(steps)
	if err != nil {
		return Image{}, fmt.Errorf("encode operations: %w", err)
	}
	return c.Process(ctx, "pipeline", filename, image, map[string]string{"operations": string(encoded)})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func credentials(email, password string) auth.Credentials {
	return auth.Credentials{Email: email, Password: password}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Error
	}
	return apiErr
}

func multipartBody(filename string, image []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", contentTypeForExt(filepath.Ext(filename)))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".avif":
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}

func attachmentName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
