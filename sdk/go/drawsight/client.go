// Package drawsight is a thin Go client for the DrawSight REST API.
package drawsight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"DrawSight/pkg/plugin"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the DrawSight REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// PluginView is a registered plugin together with its live state.
type PluginView struct {
	Metadata plugin.Metadata     `json:"metadata"`
	Status   *plugin.Status      `json:"status,omitempty"`
	Loaded   bool                `json:"loaded"`
	Stats    *plugin.PluginStats `json:"stats,omitempty"`
}

// PluginFilter narrows ListPlugins. Empty fields are ignored.
type PluginFilter struct {
	Category    plugin.Category
	Capability  plugin.Capability
	Tag         string
	LotteryType string
}

// LifecycleResult is returned by the plugin lifecycle endpoints.
type LifecycleResult struct {
	PluginID string        `json:"plugin_id"`
	Status   plugin.Status `json:"status"`
}

// PredictionRequest is the payload of synchronous predictions and jobs.
// Parameters falls back to the server defaults when nil.
type PredictionRequest struct {
	ID          string                       `json:"id,omitempty"`
	PluginID    string                       `json:"plugin_id"`
	LotteryType string                       `json:"lottery_type"`
	Parameters  *plugin.PredictionParameters `json:"parameters,omitempty"`
}

// PredictionResponse is the result of a synchronous prediction.
type PredictionResponse struct {
	Result *plugin.PredictionResult `json:"result"`
	Cached bool                     `json:"cached"`
}

// Job is an asynchronous prediction job.
type Job struct {
	ID          string                      `json:"id"`
	PluginID    string                      `json:"plugin_id"`
	LotteryType string                      `json:"lottery_type"`
	Parameters  plugin.PredictionParameters `json:"parameters"`
	Status      string                      `json:"status"`
	Attempts    int                         `json:"attempts"`
	MaxRetries  int                         `json:"max_retries"`
	LastError   string                      `json:"last_error,omitempty"`
	ErrorCode   string                      `json:"error_code,omitempty"`
	Cached      bool                        `json:"cached"`
	Result      *plugin.PredictionResult    `json:"result,omitempty"`
	CreatedAt   int64                       `json:"created_at"`
	UpdatedAt   int64                       `json:"updated_at"`
}

// Terminal reports whether the job will not change any more.
func (j Job) Terminal() bool {
	return j.Status == "succeeded" || (j.Status == "failed" && j.Attempts >= j.MaxRetries)
}

// JobFilter narrows ListJobs. Zero values are ignored.
type JobFilter struct {
	Limit       int
	Offset      int
	PluginID    string
	LotteryType string
	Query       string
	Statuses    []string
	HasResult   *bool
	Ascending   bool
}

// JobStats summarises the job store.
type JobStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Cached          int   `json:"cached"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// DrawStatistics describes the stored history of one lottery type.
type DrawStatistics struct {
	LotteryType    string    `json:"lottery_type"`
	Total          int       `json:"total"`
	FirstDrawDate  time.Time `json:"first_draw_date,omitempty"`
	LastDrawDate   time.Time `json:"last_draw_date,omitempty"`
	AverageJackpot *float64  `json:"average_jackpot,omitempty"`
}

// Schedule is one recurring prediction registered on the server.
type Schedule struct {
	Name        string    `json:"name"`
	Spec        string    `json:"spec"`
	PluginID    string    `json:"plugin_id"`
	LotteryType string    `json:"lottery_type"`
	Next        time.Time `json:"next"`
	Prev        time.Time `json:"prev,omitempty"`
	LastJobID   string    `json:"last_job_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("drawsight api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("drawsight api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 returned by the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the DrawSight API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health calls /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

// ListPlugins returns the registered plugins sorted by identifier.
func (c *Client) ListPlugins(ctx context.Context, filter PluginFilter) ([]PluginView, error) {
	q := url.Values{}
	setIf(q, "category", string(filter.Category))
	setIf(q, "capability", string(filter.Capability))
	setIf(q, "tag", filter.Tag)
	setIf(q, "lottery_type", filter.LotteryType)
	var out struct {
		Plugins []PluginView `json:"plugins"`
	}
	if err := c.get(ctx, "/api/v1/plugins", q, &out); err != nil {
		return nil, err
	}
	return out.Plugins, nil
}

// GetPlugin returns one plugin.
func (c *Client) GetPlugin(ctx context.Context, id string) (PluginView, error) {
	var view PluginView
	err := c.get(ctx, "/api/v1/plugins/"+url.PathEscape(id), nil, &view)
	return view, err
}

// PluginSchema returns the JSON schema of the plugin's algorithm_params.
func (c *Client) PluginSchema(ctx context.Context, id string) (map[string]any, error) {
	var out struct {
		AlgorithmParams map[string]any `json:"algorithm_params"`
	}
	if err := c.get(ctx, "/api/v1/plugins/"+url.PathEscape(id)+"/schema", nil, &out); err != nil {
		return nil, err
	}
	return out.AlgorithmParams, nil
}

// LoadPlugin re-initialises an unloaded plugin.
func (c *Client) LoadPlugin(ctx context.Context, id string) (LifecycleResult, error) {
	return c.lifecycle(ctx, id, "load")
}

// UnloadPlugin cleans up a plugin while keeping it registered.
func (c *Client) UnloadPlugin(ctx context.Context, id string) (LifecycleResult, error) {
	return c.lifecycle(ctx, id, "unload")
}

// ResetPlugin returns a completed or failed plugin to ready.
func (c *Client) ResetPlugin(ctx context.Context, id string) (LifecycleResult, error) {
	return c.lifecycle(ctx, id, "reset")
}

// PausePlugin stops a ready plugin from accepting executions.
func (c *Client) PausePlugin(ctx context.Context, id string) (LifecycleResult, error) {
	return c.lifecycle(ctx, id, "pause")
}

// ResumePlugin makes a paused plugin ready again.
func (c *Client) ResumePlugin(ctx context.Context, id string) (LifecycleResult, error) {
	return c.lifecycle(ctx, id, "resume")
}

func (c *Client) lifecycle(ctx context.Context, id, action string) (LifecycleResult, error) {
	var out LifecycleResult
	err := c.send(ctx, http.MethodPost, "/api/v1/plugins/"+url.PathEscape(id)+"/"+action, nil, &out)
	return out, err
}

// InvalidateCache drops cached results of a plugin and returns how many
// entries were removed.
func (c *Client) InvalidateCache(ctx context.Context, id string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.send(ctx, http.MethodDelete, "/api/v1/plugins/"+url.PathEscape(id)+"/cache", nil, &out)
	return out.Removed, err
}

// Predict runs a synchronous prediction.
func (c *Client) Predict(ctx context.Context, req PredictionRequest) (PredictionResponse, error) {
	var out PredictionResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/predictions", req, &out)
	return out, err
}

// SubmitJob enqueues an asynchronous prediction. Resubmitting the same ID
// returns the existing job.
func (c *Client) SubmitJob(ctx context.Context, req PredictionRequest) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodPost, "/api/v1/jobs", req, &out)
	return out, err
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var out Job
	err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

// ListJobs lists jobs, newest first unless Ascending is set.
func (c *Client) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	q := url.Values{}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	setIf(q, "plugin_id", filter.PluginID)
	setIf(q, "lottery_type", filter.LotteryType)
	setIf(q, "q", filter.Query)
	setIf(q, "status", strings.Join(filter.Statuses, ","))
	if filter.HasResult != nil {
		q.Set("has_result", strconv.FormatBool(*filter.HasResult))
	}
	if filter.Ascending {
		q.Set("order", "asc")
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/v1/jobs", q, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobStats returns aggregate job counts.
func (c *Client) JobStats(ctx context.Context) (JobStats, error) {
	var out JobStats
	err := c.get(ctx, "/api/v1/jobs/stats", nil, &out)
	return out, err
}

// WaitForJob polls until the job is terminal or ctx is done.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LotteryTypes lists the lottery types with stored draws.
func (c *Client) LotteryTypes(ctx context.Context) ([]string, error) {
	var out struct {
		LotteryTypes []string `json:"lottery_types"`
	}
	if err := c.get(ctx, "/api/v1/draws", nil, &out); err != nil {
		return nil, err
	}
	return out.LotteryTypes, nil
}

// DrawStatistics summarises the stored draws of a lottery type.
func (c *Client) DrawStatistics(ctx context.Context, lotteryType string) (DrawStatistics, error) {
	var out DrawStatistics
	err := c.get(ctx, "/api/v1/draws/"+url.PathEscape(lotteryType)+"/stats", nil, &out)
	return out, err
}

// LatestDraw returns the most recent draw of a lottery type.
func (c *Client) LatestDraw(ctx context.Context, lotteryType string) (plugin.DrawRecord, error) {
	var out plugin.DrawRecord
	err := c.get(ctx, "/api/v1/draws/"+url.PathEscape(lotteryType)+"/latest", nil, &out)
	return out, err
}

// Schedules lists the configured recurring predictions.
func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	var out struct {
		Schedules []Schedule `json:"schedules"`
	}
	if err := c.get(ctx, "/api/v1/schedules", nil, &out); err != nil {
		return nil, err
	}
	return out.Schedules, nil
}

// RunSchedule submits the job of a schedule immediately.
func (c *Client) RunSchedule(ctx context.Context, name string) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodPost, "/api/v1/schedules/"+url.PathEscape(name)+"/run", nil, &out)
	return out, err
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
