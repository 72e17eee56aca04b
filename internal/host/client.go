// Package host implements the client for the host's entity API. Entities are
// opaque references resolved at read/write time; failures are classified as
// transient (retried with backoff) or permanent.
package host

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/drip-org/drip/internal/backoff"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/model"
)

const (
	// DefaultBaseURL is the supervisor-proxied core API endpoint.
	DefaultBaseURL = "http://supervisor/core/api"

	requestTimeout = 5 * time.Second

	// Reads may be cached for at most this long to cheapen tight loops.
	readCacheTTL = time.Second
)

// Client is the capability interface against the host's entity API.
type Client interface {
	// ReadTimeOfDay reads an entity whose state is a time-of-day value.
	ReadTimeOfDay(ctx context.Context, ref model.EntityRef) (model.TimeOfDay, error)
	// ReadNumber reads an entity whose state is numeric.
	ReadNumber(ctx context.Context, ref model.EntityRef) (float64, error)
	// ReadBool reads an entity whose state is boolean ("on" means true).
	ReadBool(ctx context.Context, ref model.EntityRef) (bool, error)
	// SetBool turns an entity on or off. Writes are never cached.
	SetBool(ctx context.Context, ref model.EntityRef, on bool) error
	// ListEntities returns entities known to the host, optionally filtered
	// by domain (e.g. "switch").
	ListEntities(ctx context.Context, domain string) ([]Entity, error)
}

// Entity describes a host entity for discovery output.
type Entity struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string
	State        string `json:"state"`
}

type stateResponse struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Option configures the API client.
type Option func(*apiClient)

// WithRetryPolicy overrides the retry policy for host requests.
func WithRetryPolicy(policy backoff.RetryPolicy) Option {
	return func(c *apiClient) {
		c.policy = policy
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *apiClient) {
		c.client.SetTimeout(d)
	}
}

var _ Client = (*apiClient)(nil)

type apiClient struct {
	client *resty.Client
	policy backoff.RetryPolicy
	reads  *gocache.Cache
}

// New creates a Client for the given base URL, authenticating with the
// supervisor bearer token.
func New(baseURL, token string, opts ...Option) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(requestTimeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")

	c := &apiClient{
		client: client,
		// Bounded retries: 1s, 2s, capped at 4s, three tries total.
		policy: &backoff.ExponentialBackoffPolicy{
			InitialInterval: time.Second,
			BackoffFactor:   2.0,
			MaxInterval:     4 * time.Second,
			MaxRetries:      2,
		},
		reads: gocache.New(readCacheTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadTimeOfDay implements Client.
func (c *apiClient) ReadTimeOfDay(ctx context.Context, ref model.EntityRef) (model.TimeOfDay, error) {
	state, err := c.readState(ctx, ref)
	if err != nil {
		return model.TimeOfDay{}, err
	}
	tod, err := model.ParseTimeOfDay(state)
	if err != nil {
		return model.TimeOfDay{}, permanentErr(ref, 0, err)
	}
	return tod, nil
}

// ReadNumber implements Client.
func (c *apiClient) ReadNumber(ctx context.Context, ref model.EntityRef) (float64, error) {
	state, err := c.readState(ctx, ref)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(state, 64)
	if err != nil {
		return 0, permanentErr(ref, 0, fmt.Errorf("state %q is not numeric", state))
	}
	return value, nil
}

// ReadBool implements Client.
func (c *apiClient) ReadBool(ctx context.Context, ref model.EntityRef) (bool, error) {
	state, err := c.readState(ctx, ref)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(state) {
	case "on", "true", "locked":
		return true, nil
	default:
		return false, nil
	}
}

// SetBool implements Client.
func (c *apiClient) SetBool(ctx context.Context, ref model.EntityRef, on bool) error {
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	endpoint := fmt.Sprintf("/services/%s/%s", url.PathEscape(ref.Domain()), service)
	body := map[string]string{"entity_id": string(ref)}

	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).SetBody(body).Post(endpoint)
		if err != nil {
			return transientErr(ref, err)
		}
		return classifyResponse(ref, resp)
	}, c.policy, IsTransient)
	if err != nil {
		return err
	}

	// The write invalidates any cached read of the same entity.
	c.reads.Delete(string(ref))
	logger.Debug(ctx, "host entity updated", "entity", ref, "on", on)
	return nil
}

// ListEntities implements Client.
func (c *apiClient) ListEntities(ctx context.Context, domain string) ([]Entity, error) {
	var states []stateResponse
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).SetResult(&states).Get("/states")
		if err != nil {
			return transientErr("", err)
		}
		return classifyResponse("", resp)
	}, c.policy, IsTransient)
	if err != nil {
		return nil, err
	}

	var entities []Entity
	for _, st := range states {
		if domain != "" && !strings.HasPrefix(st.EntityID, domain+".") {
			continue
		}
		name := st.EntityID
		if fn, ok := st.Attributes["friendly_name"].(string); ok && fn != "" {
			name = fn
		}
		entities = append(entities, Entity{
			EntityID:     st.EntityID,
			FriendlyName: name,
			State:        st.State,
		})
	}
	return entities, nil
}

// readState fetches an entity state, serving from the short-lived read cache
// when possible.
func (c *apiClient) readState(ctx context.Context, ref model.EntityRef) (string, error) {
	if cached, ok := c.reads.Get(string(ref)); ok {
		return cached.(string), nil
	}

	var state stateResponse
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().SetContext(ctx).SetResult(&state).
			Get("/states/" + url.PathEscape(string(ref)))
		if err != nil {
			return transientErr(ref, err)
		}
		return classifyResponse(ref, resp)
	}, c.policy, IsTransient)
	if err != nil {
		return "", err
	}

	c.reads.Set(string(ref), state.State, readCacheTTL)
	return state.State, nil
}

// classifyResponse maps HTTP status codes to the error taxonomy: 2xx is
// success, 4xx and missing entities are permanent, everything else is
// transient.
func classifyResponse(ref model.EntityRef, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 404:
		return permanentErr(ref, code, fmt.Errorf("entity not found"))
	case code >= 400 && code < 500:
		return permanentErr(ref, code, fmt.Errorf("request rejected: %s", resp.Status()))
	default:
		return transientErr(ref, fmt.Errorf("host returned %s", resp.Status()))
	}
}
