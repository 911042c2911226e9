package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/chr1sbest/runctl/internal/logger"
	"github.com/chr1sbest/runctl/internal/resilience"
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	Timeout         time.Duration // 0 = no per-request timeout
	UserAgent       string
	DownloadRetries int
	Logger          logger.Logger
}

// Client talks to the job runner's JSON endpoints.
type Client struct {
	http   *resty.Client
	log    logger.Logger
	policy resilience.RetryPolicy
}

// New creates a client for the job runner at opts.BaseURL.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:   hc,
		log:    log.WithFields(logger.F("component", "jobrunner")),
		policy: resilience.DownloadPolicy(opts.DownloadRetries),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// call performs one request and decodes the JSON body into out. A
// success:false/error payload is left for the caller unless the status is
// non-2xx, in which case it becomes an ApplicationError.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	res, err := req.Execute(method, path)
	if err != nil {
		return resilience.NewNetworkError(op, err)
	}
	raw := res.Bytes()
	c.log.Debug("job runner call",
		logger.F("op", op),
		logger.F("status", res.StatusCode()),
		logger.F("duration", time.Since(start)),
	)

	if res.IsError() {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			return resilience.NewApplicationError(op, res.StatusCode(), env.Error)
		}
		return resilience.NewStatusError(op, res.StatusCode())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resilience.NewNetworkError(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// failed converts a success:false payload into an ApplicationError.
func failed(op string, success *bool, msg string) error {
	if (success != nil && !*success) || msg != "" {
		return resilience.NewApplicationError(op, http.StatusOK, msg)
	}
	return nil
}

// Start asks the runner to execute the configured batch. Some runners only
// answer once the whole batch has finished.
func (c *Client) Start(ctx context.Context) (*StartResponse, error) {
	var out StartResponse
	if err := c.call(ctx, "start", http.MethodPost, "/api/execution/start", nil, &out); err != nil {
		return nil, err
	}
	if out.Stopped {
		return &out, nil
	}
	if err := failed("start", &out.Success, out.Error); err != nil {
		return nil, err
	}
	return &out, nil
}

// Progress returns the progress of execution n. A response without success
// and without an error message is returned as-is; see ProgressResponse.Pending.
func (c *Client) Progress(ctx context.Context, n int) (*ProgressResponse, error) {
	var out ProgressResponse
	if err := c.call(ctx, "progress", http.MethodGet, fmt.Sprintf("/api/execution/progress/%d", n), nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, resilience.NewApplicationError("progress", http.StatusOK, out.Error)
	}
	return &out, nil
}

// Stop requests cancellation of the running batch.
func (c *Client) Stop(ctx context.Context) error {
	var out envelope
	if err := c.call(ctx, "stop", http.MethodPost, "/api/execution/stop", nil, &out); err != nil {
		return err
	}
	return failed("stop", out.Success, out.Error)
}

// StopStatus reports whether the runner has acknowledged the stop.
func (c *Client) StopStatus(ctx context.Context) (bool, error) {
	var out StopStatus
	if err := c.call(ctx, "stop status", http.MethodGet, "/api/execution/stop", nil, &out); err != nil {
		return false, err
	}
	if out.Error != "" {
		return false, resilience.NewApplicationError("stop status", http.StatusOK, out.Error)
	}
	return out.Stopped, nil
}

// Summary returns the runner's view of the batch.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var out Summary
	if err := c.call(ctx, "summary", http.MethodGet, "/api/execution/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settings returns the configured number of executions.
func (c *Client) Settings(ctx context.Context) (*SampleSettings, error) {
	var out struct {
		SampleSettings
		envelope
	}
	if err := c.call(ctx, "settings", http.MethodGet, "/sample/settings", nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, resilience.NewApplicationError("settings", http.StatusOK, out.Error)
	}
	return &out.SampleSettings, nil
}

// SaveSettings sets the number of executions for the next batch.
func (c *Client) SaveSettings(ctx context.Context, executions int) error {
	if executions < 1 || executions > MaxCount {
		return fmt.Errorf("executions must be between 1 and %d, got %d", MaxCount, executions)
	}
	var out envelope
	body := map[string]int{"executions": executions}
	if err := c.call(ctx, "save settings", http.MethodPost, "/sample/settings", body, &out); err != nil {
		return err
	}
	return failed("save settings", out.Success, out.Error)
}

// Metrics returns the pre-run estimate for the loaded survey.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.call(ctx, "metrics", http.MethodGet, "/api/execution/metrics", nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, resilience.NewApplicationError("metrics", http.StatusOK, out.Error)
	}
	return &out, nil
}

// AppSettings returns the LLM and preference settings.
func (c *Client) AppSettings(ctx context.Context) (*AppSettings, error) {
	var out AppSettings
	if err := c.call(ctx, "app settings", http.MethodGet, "/api/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveAppSettings replaces the LLM and preference settings.
func (c *Client) SaveAppSettings(ctx context.Context, s *AppSettings) error {
	var out envelope
	if err := c.call(ctx, "save app settings", http.MethodPost, "/api/settings", s, &out); err != nil {
		return err
	}
	return failed("save app settings", out.Success, out.Error)
}

// Cleanup resets the runner's per-file configuration.
func (c *Client) Cleanup(ctx context.Context) error {
	var out envelope
	if err := c.call(ctx, "cleanup", http.MethodPost, "/cleanup", nil, &out); err != nil {
		return err
	}
	return failed("cleanup", out.Success, out.Error)
}
