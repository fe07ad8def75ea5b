package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/server"
)

// apiClient talks to a running bunsho server so CLI commands do not contend with it
// for the database.
type apiClient struct {
	baseURL string
	userID  int64
	http    *http.Client
}

func newAPIClient(baseURL string, userID int64) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID > 0 {
		req.Header.Set(server.UserIDHeader, strconv.FormatInt(c.userID, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) search(ctx context.Context, sessionID int64, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/search", sessionID), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ask(ctx context.Context, sessionID int64, message string) (*models.Answer, error) {
	path := fmt.Sprintf("/api/v1/sessions/%d", sessionID)
	if err := c.do(ctx, http.MethodPost, path+"/messages", map[string]string{"role": models.RoleUser, "content": message}, nil); err != nil {
		return nil, err
	}
	var out models.Answer
	if err := c.do(ctx, http.MethodPost, path+"/process", &models.ProcessRequest{UserMessage: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) sessions(ctx context.Context) ([]*models.ChatSession, error) {
	var out []*models.ChatSession
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
