package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/chr1sbest/runctl/internal/logger"
	"github.com/chr1sbest/runctl/internal/resilience"
)

// Download formats accepted by the per-execution download endpoint.
const (
	FormatJSON        = "json"
	FormatCSV         = "csv"
	FormatSampleSpace = "samplespace"
)

// ValidFormat reports whether f is a known per-execution download format.
func ValidFormat(f string) bool {
	switch f {
	case FormatJSON, FormatCSV, FormatSampleSpace:
		return true
	}
	return false
}

// DefaultFilename is the name the runner suggests for an execution download.
func DefaultFilename(format string, n int) string {
	if format == FormatSampleSpace {
		return fmt.Sprintf("sample_space_execution_%d.csv", n)
	}
	return fmt.Sprintf("survey_responses_execution_%d.%s", n, format)
}

// Download writes the results of execution n in the given format to w and
// returns the filename suggested by the runner.
func (c *Client) Download(ctx context.Context, format string, n int, w io.Writer) (string, error) {
	if !ValidFormat(format) {
		return "", fmt.Errorf("unknown download format %q", format)
	}
	path := fmt.Sprintf("/api/execution/download/%s/%d", format, n)
	return c.download(ctx, "download "+format, path, DefaultFilename(format, n), w)
}

// DownloadSampleSpace writes the batch-wide sample profiles CSV to w.
func (c *Client) DownloadSampleSpace(ctx context.Context, w io.Writer) (string, error) {
	return c.download(ctx, "download samplespace", "/api/execution/download/samplespace", "sample_profiles.csv", w)
}

func (c *Client) download(ctx context.Context, op, path, fallback string, w io.Writer) (string, error) {
	var (
		body []byte
		name string
	)
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		body, name, err = c.fetch(ctx, op, path)
		return err
	}, func(attempt int, err error, next time.Duration) {
		c.log.Warn("download failed, retrying",
			logger.F("op", op),
			logger.F("attempt", attempt),
			logger.F("error", err),
			logger.F("next_delay", next),
		)
	})
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fallback
	}
	if _, err := w.Write(body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return name, nil
}

// fetch buffers one attempt so a failed retry never leaves a partial file.
func (c *Client) fetch(ctx context.Context, op, path string) ([]byte, string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Execute(http.MethodGet, path)
	if err != nil {
		return nil, "", resilience.NewNetworkError(op, err)
	}
	data := res.Bytes()
	if res.IsError() {
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			return nil, "", resilience.NewApplicationError(op, res.StatusCode(), env.Error)
		}
		return nil, "", resilience.NewStatusError(op, res.StatusCode())
	}
	return data, attachmentName(res.Header().Get("Content-Disposition")), nil
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
