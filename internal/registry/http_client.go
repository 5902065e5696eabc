package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

const (
	maxAttempts    = 5
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second

	checksumHeader = "X-Artifact-Sha256"
)

// HTTPClient talks to a model registry over its REST surface. Multiple
// endpoints are rotated round-robin; transient failures retry with capped
// exponential backoff and a circuit breaker guards against a registry that
// is down for longer than a poll cycle.
type HTTPClient struct {
	endpoints []string
	timeout   time.Duration
	client    *http.Client
	logger    logger.Logger
	username  string
	password  string

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	current int

	backoff time.Duration
}

func NewHTTPClient(cfg config.RegistryConfig, log logger.Logger) *HTTPClient {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c := &HTTPClient{
		endpoints: normalizeEndpoints(cfg.Endpoints),
		timeout:   cfg.Timeout(),
		client:    &http.Client{Timeout: cfg.Timeout()},
		logger:    log,
		username:  cfg.Username,
		password:  cfg.Password,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		backoff:   initialBackoff,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-registry",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("registry circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

func normalizeEndpoints(endpoints []string) []string {
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, "http://") && !strings.HasPrefix(e, "https://") {
			e = "http://" + e
		}
		out = append(out, e)
	}
	return out
}

func (c *HTTPClient) ListVersions(ctx context.Context, modelName string) ([]ModelVersion, error) {
	path := fmt.Sprintf("/api/v1/models/%s/versions", url.PathEscape(modelName))
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload struct {
			Versions []ModelVersion `json:"versions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode versions for %s: %w", modelName, err)
		}
		return payload.Versions, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: model %s", ErrNotFound, modelName)
	default:
		return nil, fmt.Errorf("list versions for %s: status %d: %s",
			modelName, resp.StatusCode, readBodySnippet(resp.Body))
	}
}

func (c *HTTPClient) ResolveAlias(ctx context.Context, modelName, alias string) (*ModelVersion, error) {
	path := fmt.Sprintf("/api/v1/models/%s/aliases/%s",
		url.PathEscape(modelName), url.PathEscape(alias))
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var v ModelVersion
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return nil, fmt.Errorf("decode alias %s for %s: %w", alias, modelName, err)
		}
		return &v, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: alias %s for model %s", ErrNotFound, alias, modelName)
	default:
		return nil, fmt.Errorf("resolve alias %s for %s: status %d: %s",
			alias, modelName, resp.StatusCode, readBodySnippet(resp.Body))
	}
}

func (c *HTTPClient) FetchArtifact(ctx context.Context, modelName, version string) (*ArtifactBundle, error) {
	base := fmt.Sprintf("/api/v1/models/%s/versions/%s",
		url.PathEscape(modelName), url.PathEscape(version))

	artifact, checksum, err := c.fetchBlob(ctx, base+"/artifact", modelName, version)
	if err != nil {
		return nil, err
	}
	schema, _, err := c.fetchBlob(ctx, base+"/schema", modelName, version)
	if err != nil {
		return nil, err
	}
	return &ArtifactBundle{
		ModelName: modelName,
		Version:   version,
		Artifact:  artifact,
		Schema:    schema,
		Checksum:  checksum,
	}, nil
}

func (c *HTTPClient) fetchBlob(ctx context.Context, path, modelName, version string) ([]byte, string, error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read %s for %s/%s: %w", path, modelName, version, err)
		}
		return data, resp.Header.Get(checksumHeader), nil
	case http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s/%s", ErrNotFound, modelName, version)
	default:
		return nil, "", fmt.Errorf("fetch %s for %s/%s: status %d: %s",
			path, modelName, version, resp.StatusCode, readBodySnippet(resp.Body))
	}
}

// HealthCheck probes the selected endpoint once without retries.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	endpoint := c.selectEndpoint()
	if endpoint == "" {
		return fmt.Errorf("no registry endpoints configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry health check: status %d", resp.StatusCode)
	}
	return nil
}

// get runs one registry request through the breaker. Any response the
// server actually produced counts as breaker success, including 404s;
// only transport failures and exhausted retries trip it.
func (c *HTTPClient) get(ctx context.Context, path string) (*http.Response, error) {
	endpoint := c.selectEndpoint()
	if endpoint == "" {
		return nil, fmt.Errorf("no registry endpoints configured")
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequestWithRetry(ctx, http.MethodGet, endpoint+path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("registry unavailable: %w", err)
		}
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, urlStr string) (*http.Response, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("create registry request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("registry request failed, will retry",
				"url", urlStr, "attempt", attempt, "error", err)
		} else if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("registry status %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
			resp.Body.Close()
			c.logger.Warn("registry returned server error, will retry",
				"url", urlStr, "attempt", attempt, "status", resp.StatusCode)
		} else {
			return resp, nil
		}

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Error("registry request exhausted retries",
		"url", urlStr, "attempts", maxAttempts, "error", lastErr)
	return nil, fmt.Errorf("registry request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *HTTPClient) selectEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 {
		return ""
	}
	endpoint := c.endpoints[c.current%len(c.endpoints)]
	c.current++
	return endpoint
}

func readBodySnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
