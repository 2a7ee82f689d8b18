package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Norio691/claude-relay/internal/config"
	"github.com/Norio691/claude-relay/internal/model"
)

// daemonClient is a minimal HTTP client for the commands that need to
// reach a running daemon (list, attach). It loads its own address and
// credential from config, rather than accepting them as flags, since the
// daemon and the CLI always share one config file.
type daemonClient struct {
	baseURL string
	psk     string
	http    *http.Client
}

func newDaemonClient() (*daemonClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &daemonClient{
		baseURL: "http://" + cfg.Addr(),
		psk:     cfg.PSK(),
		http:    &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *daemonClient) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.psk)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon is not running or not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *daemonClient) listSessions() ([]model.SessionMetadata, error) {
	var sessions []model.SessionMetadata
	if err := c.do(http.MethodGet, "/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

type attachResult struct {
	WSURL   string `json:"ws_url"`
	TabName string `json:"tab_name"`
	Existed bool   `json:"existed"`
}

func (c *daemonClient) attach(id string) (*attachResult, error) {
	var res attachResult
	if err := c.do(http.MethodPost, "/api/sessions/"+id+"/attach", &res); err != nil {
		return nil, err
	}
	return &res, nil
}
