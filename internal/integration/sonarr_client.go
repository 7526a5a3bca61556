package integration

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

	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/crypto"
	"github.com/mescon/Seedrarr/internal/logger"
)

// HTTPSonarrClient is the production SonarrAPI implementation.
type HTTPSonarrClient struct {
	host        string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	breaker     *CircuitBreaker
	clk         clock.Clock
}

var _ SonarrAPI = (*HTTPSonarrClient)(nil)

// NewSonarrClient creates a Sonarr gateway using the global configuration.
// The API key may be stored encrypted; it is decrypted here once.
func NewSonarrClient(breakers *CircuitBreakerRegistry, clk clock.Clock) (*HTTPSonarrClient, error) {
	cfg := config.Get()

	apiKey, err := crypto.Decrypt(cfg.SonarrAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt Sonarr API key: %w", err)
	}

	return &HTTPSonarrClient{
		host:   strings.TrimRight(cfg.SonarrHost, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(cfg.SeedrRateLimitRPS, cfg.SeedrRateLimitBurst),
		breaker:     breakers.Get("sonarr"),
		clk:         clk,
	}, nil
}

func (c *HTTPSonarrClient) doRequest(ctx context.Context, method, endpoint string, bodyData interface{}) ([]byte, error) {
	if !c.breaker.Allow() {
		logger.Warnf("Circuit breaker OPEN for Sonarr - rejecting %s %s", method, endpoint)
		return nil, fmt.Errorf("%w: sonarr is unhealthy", ErrCircuitOpen)
	}

	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			c.breaker.RecordFailure()
			return nil, fmt.Errorf("rate limiter timeout: %w", err)
		}

		var body io.Reader
		if bodyData != nil {
			jsonBytes, err := json.Marshal(bodyData)
			if err != nil {
				return nil, err
			}
			body = bytes.NewBuffer(jsonBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.host+endpoint, body)
		if err != nil {
			return nil, err
		}

		req.Header.Set("X-Api-Key", c.apiKey)
		if bodyData != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			respBody, readErr := io.ReadAll(resp.Body)
			if closeErr := resp.Body.Close(); closeErr != nil {
				logger.Debugf("Failed to close Sonarr response body: %v", closeErr)
			}
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 500 && resp.StatusCode < 600 {
				lastErr = fmt.Errorf("sonarr API returned %d", resp.StatusCode)
				if attempt < maxRetries-1 {
					logger.Infof("Sonarr API returned %d, retrying (%d/%d)...", resp.StatusCode, attempt+1, maxRetries)
					c.clk.Sleep(time.Duration(attempt+1) * 2 * time.Second)
					continue
				}
			} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.breaker.RecordSuccess() // the service answered, it just refused
				return nil, fmt.Errorf("sonarr API returned %d for %s %s", resp.StatusCode, method, endpoint)
			} else {
				c.breaker.RecordSuccess()
				return respBody, nil
			}
		} else {
			lastErr = err
			if !isRetryableError(err) {
				c.breaker.RecordFailure()
				return nil, err
			}
			if attempt < maxRetries-1 {
				logger.Infof("Sonarr API request failed (attempt %d/%d): %v, retrying...", attempt+1, maxRetries, err)
				c.clk.Sleep(time.Duration(attempt+1) * 2 * time.Second)
			}
		}
	}

	c.breaker.RecordFailure()
	return nil, fmt.Errorf("sonarr API unavailable after %d attempts: %w", maxRetries, lastErr)
}

// CommandDownloadScan triggers Sonarr's DownloadedEpisodesScan command against
// the given path. Sonarr's command response is returned as-is so callers can
// surface it unchanged.
func (c *HTTPSonarrClient) CommandDownloadScan(ctx context.Context, path string) (map[string]interface{}, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/command", map[string]string{
		"name": "DownloadedEpisodesScan",
		"path": path,
	})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode Sonarr command response: %w", err)
	}
	return result, nil
}

// GetSeries fetches every series in the Sonarr library.
func (c *HTTPSonarrClient) GetSeries(ctx context.Context) ([]Series, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/series", nil)
	if err != nil {
		return nil, err
	}

	var series []Series
	if err := json.Unmarshal(body, &series); err != nil {
		return nil, fmt.Errorf("failed to decode Sonarr series: %w", err)
	}
	return series, nil
}

// GetSeriesByID fetches a single series.
func (c *HTTPSonarrClient) GetSeriesByID(ctx context.Context, seriesID int64) (*Series, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/series/"+strconv.FormatInt(seriesID, 10), nil)
	if err != nil {
		return nil, err
	}

	var series Series
	if err := json.Unmarshal(body, &series); err != nil {
		return nil, fmt.Errorf("failed to decode Sonarr series %d: %w", seriesID, err)
	}
	return &series, nil
}

// GetRootFolders fetches Sonarr's configured library roots.
func (c *HTTPSonarrClient) GetRootFolders(ctx context.Context) ([]RootFolder, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/rootfolder", nil)
	if err != nil {
		return nil, err
	}

	var folders []RootFolder
	if err := json.Unmarshal(body, &folders); err != nil {
		return nil, fmt.Errorf("failed to decode Sonarr root folders: %w", err)
	}
	return folders, nil
}

// GetMissingEpisodes fetches all wanted/missing episodes, walking every page.
func (c *HTTPSonarrClient) GetMissingEpisodes(ctx context.Context) ([]MissingEpisode, error) {
	type missingPage struct {
		TotalPages int              `json:"totalPages"`
		Records    []MissingEpisode `json:"records"`
	}

	fetchPage := func(page int) (*missingPage, error) {
		endpoint := fmt.Sprintf("/api/v3/wanted/missing?pageSize=100&page=%d", page)
		body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var parsed missingPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode Sonarr missing episodes: %w", err)
		}
		return &parsed, nil
	}

	first, err := fetchPage(1)
	if err != nil {
		return nil, err
	}

	records := first.Records
	for page := 2; page <= first.TotalPages; page++ {
		next, err := fetchPage(page)
		if err != nil {
			return nil, err
		}
		records = append(records, next.Records...)
	}
	return records, nil
}

// BreakerStats exposes the Sonarr circuit breaker state for monitoring.
func (c *HTTPSonarrClient) BreakerStats() CircuitBreakerStats {
	return c.breaker.Stats()
}
