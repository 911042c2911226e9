package jobrunner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxCount bounds every execution count read from the runner.
const MaxCount = 10000

// Count decodes from either a JSON number or a numeric string. The sample
// settings endpoint stores whatever the form posted, which is often "3".
// Fractional, negative and out-of-range values are rejected.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
		if len(b) == 0 {
			return fmt.Errorf("count %q is not a number", s)
		}
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("count %s is not a number", b)
	}
	if f != math.Trunc(f) || f < 0 || f > MaxCount {
		return fmt.Errorf("count %s must be a whole number between 0 and %d", b, MaxCount)
	}
	*c = Count(f)
	return nil
}

// StartResponse is returned by POST /api/execution/start.
type StartResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Stopped bool   `json:"stopped,omitempty"`
}

// ProgressResponse is returned by GET /api/execution/progress/{n}.
type ProgressResponse struct {
	Success          bool    `json:"success"`
	Progress         float64 `json:"progress"`
	CurrentExecution int     `json:"current_execution"`
	TotalExecutions  int     `json:"total_executions"`
	Error            string  `json:"error,omitempty"`
}

// Pending reports a response for an execution that has not written any
// progress yet. It is not a failure.
func (p *ProgressResponse) Pending() bool {
	return !p.Success && p.Error == ""
}

// StopStatus is returned by GET /api/execution/stop.
type StopStatus struct {
	Stopped bool   `json:"stopped"`
	Error   string `json:"error,omitempty"`
}

// Summary is returned by GET /api/execution/summary.
type Summary struct {
	TotalExecutions Count `json:"total_executions"`
}

// SampleSettings is the body of GET/POST /sample/settings.
type SampleSettings struct {
	Executions Count `json:"executions"`
}

// Metrics is returned by GET /api/execution/metrics.
type Metrics struct {
	SurveyLength  int     `json:"survey_length"`
	AgentCount    int     `json:"agent_count"`
	EstimatedCost float64 `json:"estimated_cost"`
	Error         string  `json:"error,omitempty"`
}

// AppSettings mirrors /api/settings.
type AppSettings struct {
	LLM            LLMSettings    `json:"llm_settings"`
	UserPreference UserPreference `json:"user_preference"`
}

type LLMSettings struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type UserPreference struct {
	Sample    SamplePreference    `json:"sample"`
	Execution ExecutionPreference `json:"execution"`
}

type SamplePreference struct {
	SampleSize int  `json:"sample_size"`
	Upload     bool `json:"upload,omitempty"`
}

type ExecutionPreference struct {
	Order        string `json:"order"`
	Segmentation bool   `json:"segmentation"`
}

// envelope holds the fields every endpoint may use to report failure.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}
