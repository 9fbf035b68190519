package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// ErrUnavailable marks transport-level failures talking to the recognition
// service: connection refused, timeout, malformed reply. A reply that simply
// says "no match" is not an error, it is a RecognizeResult with Success=false.
var ErrUnavailable = errors.New("recognition service unavailable")

// Gateway is the contract the handlers consume. The remote matcher is opaque,
// possibly slow and possibly down.
type Gateway interface {
	Recognize(ctx context.Context, image []byte, filename string) (*RecognizeResult, error)
	Register(ctx context.Context, image []byte, filename string, userID uint) (*RegisterResult, error)
	ReloadFaces(ctx context.Context) error
}

type RecognizeResult struct {
	Success    bool    `json:"success"`
	UserID     uint    `json:"userId"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

type RegisterResult struct {
	Success bool   `json:"success"`
	UserID  uint   `json:"user_id"`
	Error   string `json:"error"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Recognize(ctx context.Context, image []byte, filename string) (*RecognizeResult, error) {
	body, contentType, err := imageForm(image, filename, nil)
	if err != nil {
		return nil, err
	}

	var result RecognizeResult
	if err := c.postForm(ctx, "/recognize", body, contentType, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Register(ctx context.Context, image []byte, filename string, userID uint) (*RegisterResult, error) {
	extra := map[string]string{"user_id": strconv.FormatUint(uint64(userID), 10)}
	body, contentType, err := imageForm(image, filename, extra)
	if err != nil {
		return nil, err
	}

	var result RegisterResult
	if err := c.postForm(ctx, "/register", body, contentType, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReloadFaces asks the matcher to re-train on the registered set. Best effort
// after a successful registration.
func (c *Client) ReloadFaces(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reload-faces", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrUnavailable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, body *bytes.Buffer, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ErrUnavailable
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrUnavailable
	}
	return nil
}

func imageForm(image []byte, filename string, extra map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}
