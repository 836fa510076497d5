// Package commands implements the planetctl CLI commands.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// errRequestFailed wraps a non-2xx admin API response.
var errRequestFailed = errors.New("admin API request failed")

// adminClient talks to a planetd admin HTTP endpoint.
type adminClient struct {
	httpClient *http.Client
	baseURL    string
}

func newAdminClient(addr string) *adminClient {
	return &adminClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    "http://" + addr,
	}
}

type workerStatusView struct {
	ID   int `json:"id"`
	Load int `json:"load"`
}

type statusView struct {
	ConnectedClients   int                `json:"connected_clients"`
	RegisteredSessions int                `json:"registered_sessions"`
	Workers            []workerStatusView `json:"workers"`
}

type sessionView struct {
	IP           string `json:"ip"`
	Port         uint16 `json:"port"`
	Hostname     string `json:"hostname"`
	Mapname      string `json:"mapname"`
	GameType     byte   `json:"game_type"`
	CurrentUsers byte   `json:"current_users"`
	MaxUsers     byte   `json:"max_users"`
}

func (c *adminClient) Status(ctx context.Context) (*statusView, error) {
	var resp statusView
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *adminClient) Sessions(ctx context.Context) ([]sessionView, error) {
	var resp []sessionView
	if err := c.get(ctx, "/sessions", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *adminClient) Kick(ctx context.Context, target string) error {
	body, err := json.Marshal(struct {
		Target string `json:"target"`
	}{Target: target})
	if err != nil {
		return fmt.Errorf("marshal kick request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions/kick", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build kick request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kick session: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		return requestError(res)
	}
	return nil
}

func (c *adminClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return requestError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func requestError(res *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%w: %s: %s", errRequestFailed, res.Status, bytes.TrimSpace(msg))
}
