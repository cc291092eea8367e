package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/patentify/sfide/internal/models"
	"github.com/patentify/sfide/internal/realtime"
)

// Client calls the sfide API on behalf of one user. It backs the duel
// engine's submission, the completion reconciler's poll and the realtime
// manager's token source.
type Client struct {
	baseURL  string
	userID   string
	userName string
	http     *http.Client
}

func NewClient(baseURL, userID, userName string) *Client {
	return &Client{
		baseURL:  baseURL,
		userID:   userID,
		userName: userName,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) RealtimeToken(ctx context.Context, userID string) (realtime.Token, error) {
	var resp realtimeTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/realtime/token", nil, &resp); err != nil {
		return realtime.Token{}, err
	}
	return realtime.Token{Value: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

func (c *Client) StartSession(ctx context.Context, targetID, targetName, tier string) (*createSfidaResponse, error) {
	var resp createSfidaResponse
	req := createSfidaRequest{
		TargetID:   targetID,
		TargetName: targetName,
		SelfName:   c.userName,
		Tier:       tier,
	}
	if err := c.do(ctx, http.MethodPost, "/api/sfide", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CompleteSession(ctx context.Context, sessionID uuid.UUID, responses map[int64]bool) error {
	req := completeSfidaRequest{Responses: responses}
	path := fmt.Sprintf("/api/sfide/%s/complete", sessionID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

func (c *Client) SessionResult(ctx context.Context, sessionID uuid.UUID) (*models.SessionResult, error) {
	var result models.SessionResult
	path := fmt.Sprintf("/api/sfide/%s/result", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
