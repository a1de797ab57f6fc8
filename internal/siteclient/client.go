// Package siteclient talks to the gateway's admin API.
package siteclient

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

	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

type Key struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Label string `json:"label"`
}

type SiteList struct {
	Sites []sites.Summary `json:"sites"`
	Count int             `json:"count"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *logrus.Entry
}

type loggingTransport struct {
	log  *logrus.Entry
	next http.RoundTripper
}

func NewClient(logger *logrus.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &loggingTransport{
				log:  logger.WithField("component", "siteclient_transport"),
				next: http.DefaultTransport,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		log:     logger.WithField("component", "siteclient"),
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

// do sends body as JSON (when non-nil) and decodes a 2xx answer into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/_api"+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "sitectl/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func sitePath(brand, name string) string {
	return "/sites/" + url.PathEscape(brand) + "/" + url.PathEscape(name)
}

func (c *Client) Publish(ctx context.Context, brand, name string, in sites.PublishInput) (*sites.PublishResult, error) {
	var out sites.PublishResult
	if err := c.do(ctx, http.MethodPost, sitePath(brand, name), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, brand, name string, in sites.UpdateInput) (*sites.UpdateResult, error) {
	var out sites.UpdateResult
	if err := c.do(ctx, http.MethodPut, sitePath(brand, name), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns all sites, or those of brand when it is non-empty.
func (c *Client) List(ctx context.Context, brand string) (*SiteList, error) {
	path := "/sites"
	if brand != "" {
		path += "?" + url.Values{"brand": {brand}}.Encode()
	}
	var out SiteList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, brand, name string) (*sites.Info, error) {
	var out sites.Info
	if err := c.do(ctx, http.MethodGet, sitePath(brand, name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Download(ctx context.Context, brand, name string) (*sites.Download, error) {
	var out sites.Download
	if err := c.do(ctx, http.MethodGet, sitePath(brand, name)+"/files", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, brand, name string) (*sites.DeleteResult, error) {
	var out sites.DeleteResult
	if err := c.do(ctx, http.MethodDelete, sitePath(brand, name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RotatePassword(ctx context.Context, brand, name string) (*sites.RotateResult, error) {
	var out sites.RotateResult
	if err := c.do(ctx, http.MethodPost, sitePath(brand, name)+"/password", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateKey(ctx context.Context, label string) (*Key, error) {
	var out Key
	if err := c.do(ctx, http.MethodPost, "/keys", map[string]string{"label": label}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevokeKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/keys/"+url.PathEscape(id), nil, nil)
}
