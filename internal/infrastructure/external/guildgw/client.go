// Package guildgw implements the guild-state capabilities over the front-end's
// JSON/HTTP gateway: role lookups, role updates and channel announcements.
package guildgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/pkg/circuitbreaker"
	"github.com/guild-hub/guild-xp/pkg/retry"
)

// Errors.
var (
	// ErrUnexpectedStatus is matched by every non-2xx gateway response.
	ErrUnexpectedStatus = errors.New("unexpected gateway status")

	// ErrRateLimitWait is returned when the local limiter cannot grant a token in time.
	ErrRateLimitWait = errors.New("timeout waiting for gateway rate limit")

	errNotFound = errors.New("gateway resource not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the gateway client.
type ClientConfig struct {
	// BaseURL is the gateway base URL, e.g. http://frontend:8081/api.
	BaseURL string

	// Guild scopes every request.
	Guild shared.GuildID

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration

	RateLimiter RateLimiterConfig

	// MaxAttempts includes the first attempt.
	MaxAttempts  int
	InitialDelay time.Duration

	// BreakerThreshold is the consecutive failures that open the circuit.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string, guildID shared.GuildID) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		Guild:            guildID,
		Timeout:          5 * time.Second,
		RateLimiter:      DefaultRateLimiterConfig(),
		MaxAttempts:      3,
		InitialDelay:     200 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the guild gateway client. It implements guild.State.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

var _ guild.State = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	logger := config.Logger.With("component", "guildgw")

	return &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiter),
		breaker: circuitbreaker.New("guild-gateway",
			circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
			circuitbreaker.WithCooldown(config.BreakerCooldown),
			circuitbreaker.WithIsFailure(isGatewayFailure),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		),
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.InitialDelay),
			retry.WithMaxDelay(5*time.Second),
			retry.WithJitter(0.2),
		),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILD STATE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) memberRolesPath(principal shared.PrincipalID) string {
	return fmt.Sprintf("/guilds/%d/members/%d/roles", int64(c.config.Guild), int64(principal))
}

// FetchRoles implements guild.RoleLookup. A member no longer in the guild
// yields guild.ErrMemberNotFound.
func (c *Client) FetchRoles(ctx context.Context, principal shared.PrincipalID) (shared.RoleSet, error) {
	var dto MemberRolesDTO
	err := c.doRequest(ctx, http.MethodGet, c.memberRolesPath(principal), nil, &dto)
	if errors.Is(err, errNotFound) {
		return nil, guild.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch roles for %s: %w", principal, err)
	}
	return roleSetFromDTO(dto)
}

// ApplyRoleDelta implements guild.RoleUpdater as one PATCH.
func (c *Client) ApplyRoleDelta(ctx context.Context, principal shared.PrincipalID, add, remove []shared.RoleID) error {
	body := RoleDeltaDTO{
		Add:    roleIDsToDTO(add),
		Remove: roleIDsToDTO(remove),
		Reason: "level autoroles",
	}
	err := c.doRequest(ctx, http.MethodPatch, c.memberRolesPath(principal), body, nil)
	if errors.Is(err, errNotFound) {
		return guild.ErrMemberNotFound
	}
	if err != nil {
		return fmt.Errorf("apply role delta for %s: %w", principal, err)
	}
	return nil
}

// Announce implements guild.Announcer.
func (c *Client) Announce(ctx context.Context, channel shared.ChannelID, text string) error {
	path := fmt.Sprintf("/guilds/%d/channels/%d/messages", int64(c.config.Guild), int64(channel))
	if err := c.doRequest(ctx, http.MethodPost, path, MessageDTO{Content: text}, nil); err != nil {
		return fmt.Errorf("announce to channel %d: %w", int64(channel), err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a request with circuit breaking, retries and rate limiting.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			return c.doSingleRequest(ctx, method, path, body, result)
		})
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", shared.ErrGatewayUnavailable, err)
	}
	return err
}

// doSingleRequest performs one HTTP round trip and classifies the outcome
// for the retrier.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(errNotFound)

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
			retryAfter = time.Duration(ra) * time.Second
		}
		c.rateLimiter.RecordRateLimitHit(retryAfter)
		c.logger.Warn("gateway rate limited", "path", path, "retry_after", retryAfter.String())
		return retry.RetryAfter(fmt.Errorf("%w: retry after %s", shared.ErrGatewayRateLimited, retryAfter), retryAfter)

	case resp.StatusCode >= 400:
		apiErr := &APIErrorDTO{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return retry.Retryable(apiErr)
		}
		return retry.Permanent(apiErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}

// isGatewayFailure reports whether err says the gateway itself is unhealthy.
// Client-side errors, missing members and rate limiting do not trip the breaker.
func isGatewayFailure(err error) bool {
	switch {
	case errors.Is(err, errNotFound),
		errors.Is(err, ErrRateLimitWait),
		errors.Is(err, shared.ErrGatewayRateLimited),
		errors.Is(err, context.Canceled):
		return false
	}
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a point-in-time view of the client's protection layers.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus `json:"rate_limiter"`
	CircuitBreaker string            `json:"circuit_breaker"`
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.breaker.State().String(),
	}
}
