package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/usage"
)

// errServerUnavailable means no serve with usage polling is listening.
var errServerUnavailable = errors.New("no running server with usage polling")

// serverClient talks to a running serve over its HTTP API.
type serverClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newServerClient(cfg *config.Config) *serverClient {
	host := cfg.Server.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return &serverClient{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)),
		token:   cfg.Server.AuthToken,
		http:    &http.Client{},
	}
}

// do sends body as JSON and decodes the usage status the server replies
// with. A refused connection or a server without usage polling yields
// errServerUnavailable.
func (c *serverClient) do(ctx context.Context, method, path string, body any) (*usage.Status, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, errServerUnavailable
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, errServerUnavailable
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server at %s returned %s: %s", c.baseURL, resp.Status, strings.TrimSpace(string(msg)))
	}

	var st usage.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding server reply: %w", err)
	}
	return &st, nil
}
