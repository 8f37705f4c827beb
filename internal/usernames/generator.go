// Package usernames fetches fresh usernames from the external generator service.
package usernames

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

var ErrEmpty = errors.New("generator returned an empty username")

type Generator struct {
	client *http.Client
	url    string
	cb     *gobreaker.CircuitBreaker[string]
}

func New(url string, timeout time.Duration, logger zerolog.Logger) *Generator {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "username-generator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Generator{
		client: &http.Client{Timeout: timeout},
		url:    url,
		cb:     cb,
	}
}

// Generate asks the service for one username. The service answers either
// {"value": "name"} or the bare name as text.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	return g.cb.Execute(func() (string, error) {
		return g.fetch(ctx)
	})
}

func (g *Generator) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("username request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("username service status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read username: %w", err)
	}

	var payload struct {
		Value string `json:"value"`
	}
	name := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil {
		name = strings.TrimSpace(payload.Value)
	}
	if name == "" {
		return "", ErrEmpty
	}
	return name, nil
}
