package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/config"
	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/logger"
)

// apiPrefix is the versioned path prefix shared by every Seedr endpoint.
const apiPrefix = "/api/v0.1/p"

const (
	archivePollAttempts = 3
	archivePollDelay    = 5 * time.Second
)

// HTTPSeedrClient is the production SeedrAPI implementation.
type HTTPSeedrClient struct {
	baseURL       string
	tokens        TokenSource
	httpClient    *http.Client
	submitClient  *http.Client
	streamClient  *http.Client
	rateLimiter   *RateLimiter
	breaker       *CircuitBreaker
	clk           clock.Clock
	submitTimeout time.Duration
}

var _ SeedrAPI = (*HTTPSeedrClient)(nil)

// NewSeedrClient creates a Seedr gateway using the global configuration.
func NewSeedrClient(tokens TokenSource, breakers *CircuitBreakerRegistry, clk clock.Clock) *HTTPSeedrClient {
	cfg := config.Get()
	return &HTTPSeedrClient{
		baseURL: strings.TrimRight(cfg.SeedrAPIBaseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: cfg.SeedrTimeout,
		},
		submitClient: &http.Client{
			Timeout: cfg.SeedrSubmitTimeout,
		},
		// File transfers can run for hours; the context governs cancellation.
		streamClient:  &http.Client{},
		rateLimiter:   NewRateLimiter(cfg.SeedrRateLimitRPS, cfg.SeedrRateLimitBurst),
		breaker:       breakers.Get("seedr"),
		clk:           clk,
		submitTimeout: cfg.SeedrSubmitTimeout,
	}
}

// flexString decodes a JSON string or number into a string. Seedr returns
// ids as numbers on some endpoints and strings on others.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = flexString(t)
	case float64:
		*s = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	case nil:
		*s = ""
	default:
		return fmt.Errorf("cannot decode %T as string", t)
	}
	return nil
}

// flexFloat decodes a JSON number or numeric string into a float64.
// Seedr reports task progress both ways.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = flexFloat(t)
	case string:
		if t == "" {
			*f = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return fmt.Errorf("cannot decode %q as number", t)
		}
		*f = flexFloat(parsed)
	case nil:
		*f = 0
	default:
		return fmt.Errorf("cannot decode %T as number", t)
	}
	return nil
}

type taskWire struct {
	ID       flexString `json:"id"`
	Status   string     `json:"status"`
	Progress flexFloat  `json:"progress"`
	Message  string     `json:"message"`
	Name     string     `json:"name"`
	Size     int64      `json:"size"`
}

func (w taskWire) toTask() *Task {
	return &Task{
		ID:       string(w.ID),
		Status:   w.Status,
		Progress: float64(w.Progress),
		Message:  w.Message,
		Name:     w.Name,
		Size:     w.Size,
	}
}

type submitWire struct {
	TaskID        flexString `json:"task_id"`
	ID            flexString `json:"id"`
	UserTorrentID flexString `json:"user_torrent_id"`
	Success       bool       `json:"success"`
	TorrentHash   string     `json:"torrent_hash"`
	ReasonPhrase  string     `json:"reason_phrase"`
	Wt            *struct {
		ID flexString `json:"id"`
	} `json:"wt"`
}

type folderWire struct {
	Folders []struct {
		ID          flexString `json:"id"`
		Name        string     `json:"name"`
		Size        int64      `json:"size"`
		TorrentHash string     `json:"torrent_hash"`
	} `json:"folders"`
	Files []struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
		Size int64      `json:"size"`
	} `json:"files"`
}

// isRetryableError checks if an error is a transient network error worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if os.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"EOF",
		"connection timed out",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// doRequest performs an authenticated Seedr API call with rate limiting,
// circuit breaking, and retry for transient failures. The response body and
// status code are returned for any completed HTTP exchange, including 4xx:
// Seedr encodes business outcomes (wishlisting) in non-2xx responses.
func (c *HTTPSeedrClient) doRequest(ctx context.Context, client *http.Client, method, path string, body interface{}) ([]byte, int, error) {
	if !c.breaker.Allow() {
		logger.Warnf("Circuit breaker OPEN for Seedr - rejecting %s %s", method, path)
		return nil, 0, fmt.Errorf("%w: seedr is unhealthy", ErrCircuitOpen)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("not authenticated with Seedr: %w", err)
	}

	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			c.breaker.RecordFailure()
			return nil, 0, fmt.Errorf("rate limiter timeout: %w", err)
		}

		var reqBody io.Reader
		contentType := ""
		if body != nil {
			if raw, ok := body.(*rawPayload); ok {
				reqBody = bytes.NewReader(raw.data)
				contentType = raw.contentType
			} else {
				jsonBytes, err := json.Marshal(body)
				if err != nil {
					return nil, 0, err
				}
				reqBody = bytes.NewBuffer(jsonBytes)
				contentType = "application/json"
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
		if err != nil {
			return nil, 0, err
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := client.Do(req)
		if err == nil {
			respBody, readErr := io.ReadAll(resp.Body)
			if closeErr := resp.Body.Close(); closeErr != nil {
				logger.Debugf("Failed to close Seedr response body: %v", closeErr)
			}
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 500 && resp.StatusCode < 600 {
				lastErr = fmt.Errorf("seedr API returned %d", resp.StatusCode)
				if attempt < maxRetries-1 {
					logger.Infof("Seedr API returned %d, retrying (%d/%d)...", resp.StatusCode, attempt+1, maxRetries)
					c.clk.Sleep(time.Duration(attempt+1) * 2 * time.Second)
					continue
				}
			} else {
				c.breaker.RecordSuccess()
				return respBody, resp.StatusCode, nil
			}
		} else {
			lastErr = err
			if !isRetryableError(err) {
				c.breaker.RecordFailure()
				return nil, 0, err
			}
			if attempt < maxRetries-1 {
				logger.Infof("Seedr API request failed (attempt %d/%d): %v, retrying...", attempt+1, maxRetries, err)
				c.clk.Sleep(time.Duration(attempt+1) * 2 * time.Second)
			}
		}
	}

	c.breaker.RecordFailure()
	return nil, 0, fmt.Errorf("seedr API unavailable after %d attempts: %w", maxRetries, lastErr)
}

// get performs a GET that must succeed with 2xx and decodes the body into out.
func (c *HTTPSeedrClient) get(ctx context.Context, path string, out interface{}) error {
	body, status, err := c.doRequest(ctx, c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("seedr API returned %d for GET %s", status, path)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode Seedr response for GET %s: %w", path, err)
	}
	return nil
}

// post performs a POST that must succeed with 2xx.
func (c *HTTPSeedrClient) post(ctx context.Context, path string, out interface{}) error {
	body, status, err := c.doRequest(ctx, c.httpClient, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("seedr API returned %d for POST %s", status, path)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode Seedr response for POST %s: %w", path, err)
	}
	return nil
}

// rawPayload carries a pre-encoded request body past the JSON marshalling in
// doRequest. Torrent file uploads go up as multipart form data.
type rawPayload struct {
	contentType string
	data        []byte
}

// AddTorrent submits a torrent to Seedr. The response is decoded even on
// 4xx: an out-of-space submission answers 413 with a wishlist entry, which
// is an outcome, not a failure.
func (c *HTTPSeedrClient) AddTorrent(ctx context.Context, source TorrentSource) (*SubmitResponse, error) {
	var payload interface{}
	switch {
	case source.Magnet != "":
		payload = map[string]string{"magnet": source.Magnet}
	case source.URL != "":
		payload = map[string]string{"url": source.URL}
	case len(source.File) > 0:
		encoded, err := encodeTorrentUpload(source)
		if err != nil {
			return nil, err
		}
		payload = encoded
	default:
		return nil, fmt.Errorf("torrent source is empty")
	}

	body, status, err := c.doRequest(ctx, c.submitClient, http.MethodPost, "/tasks", payload)
	if err != nil {
		return nil, err
	}

	var wire submitWire
	if err := json.Unmarshal(body, &wire); err != nil {
		if status >= 200 && status < 300 {
			// Accepted but no decodable body
			return &SubmitResponse{Success: true}, nil
		}
		return nil, fmt.Errorf("seedr API returned %d for torrent submission", status)
	}

	resp := &SubmitResponse{
		TaskID:        string(wire.TaskID),
		ID:            string(wire.ID),
		UserTorrentID: string(wire.UserTorrentID),
		Success:       wire.Success,
		TorrentHash:   wire.TorrentHash,
		ReasonPhrase:  wire.ReasonPhrase,
	}
	if wire.Wt != nil {
		resp.Wishlist = &WishlistItem{ID: string(wire.Wt.ID)}
	}
	return resp, nil
}

// encodeTorrentUpload builds the multipart body for a raw .torrent submission.
func encodeTorrentUpload(source TorrentSource) (*rawPayload, error) {
	name := source.FileName
	if name == "" {
		name = "upload.torrent"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("torrent_file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build torrent upload: %w", err)
	}
	if _, err := part.Write(source.File); err != nil {
		return nil, fmt.Errorf("failed to build torrent upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build torrent upload: %w", err)
	}

	return &rawPayload{contentType: writer.FormDataContentType(), data: buf.Bytes()}, nil
}

// GetTask fetches the state of an active torrent task.
func (c *HTTPSeedrClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var wire taskWire
	if err := c.get(ctx, "/tasks/"+taskID, &wire); err != nil {
		return nil, err
	}
	if wire.ID == "" {
		wire.ID = flexString(taskID)
	}
	return wire.toTask(), nil
}

// GetTaskProgress fetches the progress view of a task. It supplements GetTask:
// the two endpoints disagree on which fields they populate.
func (c *HTTPSeedrClient) GetTaskProgress(ctx context.Context, taskID string) (*Task, error) {
	var wire taskWire
	if err := c.get(ctx, "/tasks/"+taskID+"/progress", &wire); err != nil {
		return nil, err
	}
	if wire.ID == "" {
		wire.ID = flexString(taskID)
	}
	return wire.toTask(), nil
}

// GetTaskContents lists the files and folders inside a completed task.
func (c *HTTPSeedrClient) GetTaskContents(ctx context.Context, taskID string) ([]domain.RemoteItem, error) {
	var wire []struct {
		ID       flexString `json:"id"`
		Name     string     `json:"name"`
		Size     int64      `json:"size"`
		IsFolder bool       `json:"is_folder"`
		Type     string     `json:"type"`
	}
	if err := c.get(ctx, "/tasks/"+taskID+"/contents", &wire); err != nil {
		return nil, err
	}

	items := make([]domain.RemoteItem, 0, len(wire))
	for _, entry := range wire {
		kind := domain.ItemFile
		if entry.IsFolder || entry.Type == "folder" {
			kind = domain.ItemFolder
		}
		items = append(items, domain.RemoteItem{
			Kind: kind,
			ID:   string(entry.ID),
			Name: entry.Name,
			Size: entry.Size,
		})
	}
	return items, nil
}

// GetTasks lists all active torrent tasks.
func (c *HTTPSeedrClient) GetTasks(ctx context.Context) ([]Task, error) {
	var wire []taskWire
	if err := c.get(ctx, "/tasks", &wire); err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(wire))
	for _, w := range wire {
		tasks = append(tasks, *w.toTask())
	}
	return tasks, nil
}

// PauseTask pauses an active task.
func (c *HTTPSeedrClient) PauseTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/"+taskID+"/pause", nil)
}

// ResumeTask resumes a paused task.
func (c *HTTPSeedrClient) ResumeTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/"+taskID+"/resume", nil)
}

// DeleteTask deletes a torrent task. Files already moved to a folder are
// not touched.
func (c *HTTPSeedrClient) DeleteTask(ctx context.Context, taskID string) error {
	body, status, err := c.doRequest(ctx, c.httpClient, http.MethodDelete, "/tasks/"+taskID, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("seedr API returned %d deleting task %s: %s", status, taskID, truncate(string(body), 200))
	}
	return nil
}

// GetFolderContents lists a folder, tagging each entry as file or folder.
// Folder "0" is the account root.
func (c *HTTPSeedrClient) GetFolderContents(ctx context.Context, folderID string) ([]domain.RemoteItem, error) {
	var wire folderWire
	if err := c.get(ctx, "/folder/"+folderID, &wire); err != nil {
		return nil, err
	}

	items := make([]domain.RemoteItem, 0, len(wire.Folders)+len(wire.Files))
	for _, f := range wire.Folders {
		items = append(items, domain.RemoteItem{
			Kind:        domain.ItemFolder,
			ID:          string(f.ID),
			Name:        f.Name,
			Size:        f.Size,
			TorrentHash: f.TorrentHash,
		})
	}
	for _, f := range wire.Files {
		items = append(items, domain.RemoteItem{
			Kind: domain.ItemFile,
			ID:   string(f.ID),
			Name: f.Name,
			Size: f.Size,
		})
	}
	return items, nil
}

// GetDownloadURL resolves a file id to a direct download URL.
func (c *HTTPSeedrClient) GetDownloadURL(ctx context.Context, fileID string) (string, error) {
	var wire struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, "/file/"+fileID, &wire); err != nil {
		return "", err
	}
	if wire.URL == "" {
		return "", fmt.Errorf("no download URL for file %s", fileID)
	}
	return wire.URL, nil
}

// initArchive asks Seedr to build a zip of the folder and returns the archive
// handle used to poll for readiness.
func (c *HTTPSeedrClient) initArchive(ctx context.Context, folderID string) (string, error) {
	var wire struct {
		Uniq flexString `json:"uniq"`
	}
	if err := c.post(ctx, "/folder/"+folderID+"/archive", &wire); err != nil {
		return "", err
	}
	if wire.Uniq == "" {
		return "", fmt.Errorf("no archive handle for folder %s", folderID)
	}
	return string(wire.Uniq), nil
}

// getArchiveURL polls an archive handle until the zip is ready or the retry
// budget runs out. Archive generation is server-side and usually finishes
// within seconds for episode-sized folders.
func (c *HTTPSeedrClient) getArchiveURL(ctx context.Context, uniq string) (string, error) {
	for attempt := 0; ; attempt++ {
		var wire struct {
			Status string `json:"status"`
			URL    string `json:"url"`
		}
		if err := c.get(ctx, "/folder/archive/"+uniq, &wire); err != nil {
			return "", err
		}
		if wire.Status == "ready" && wire.URL != "" {
			return wire.URL, nil
		}
		if wire.Status != "generating" || attempt >= archivePollAttempts {
			return "", fmt.Errorf("archive %s not ready (status %q)", uniq, wire.Status)
		}

		logger.Debugf("Archive %s still generating, waiting...", uniq)
		c.clk.Sleep(archivePollDelay)

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// DownloadFile streams a remote file to savePath.
func (c *HTTPSeedrClient) DownloadFile(ctx context.Context, fileID, savePath string) error {
	downloadURL, err := c.GetDownloadURL(ctx, fileID)
	if err != nil {
		return err
	}
	return c.streamToFile(ctx, downloadURL, savePath)
}

// DownloadFolderArchive zips a remote folder and streams the archive to
// savePath.
func (c *HTTPSeedrClient) DownloadFolderArchive(ctx context.Context, folderID, savePath string) error {
	uniq, err := c.initArchive(ctx, folderID)
	if err != nil {
		return err
	}
	downloadURL, err := c.getArchiveURL(ctx, uniq)
	if err != nil {
		return err
	}
	return c.streamToFile(ctx, downloadURL, savePath)
}

// streamToFile downloads a pre-signed URL to disk. The URL embeds its own
// credentials, so no auth header is attached.
func (c *HTTPSeedrClient) streamToFile(ctx context.Context, downloadURL, savePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debugf("Failed to close download body: %v", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// Write to a temp name and rename so a partial transfer never looks
	// like a finished file to the import scan.
	tmpPath := savePath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	return os.Rename(tmpPath, savePath)
}

// GetAccountInfo fetches the Seedr account profile (space usage, plan).
func (c *HTTPSeedrClient) GetAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	var info map[string]interface{}
	if err := c.get(ctx, "/user", &info); err != nil {
		return nil, err
	}
	return info, nil
}

// BreakerStats exposes the Seedr circuit breaker state for monitoring.
func (c *HTTPSeedrClient) BreakerStats() CircuitBreakerStats {
	return c.breaker.Stats()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
