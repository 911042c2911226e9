// Package fakerunner is an in-memory job runner that serves the same HTTP
// endpoints as the real one. Progress advances per poll instead of per
// surveyed agent, which makes runs deterministic in tests.
package fakerunner

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// Route names, usable with Server.Requests.
const (
	RouteStart               = "start"
	RouteProgress            = "progress"
	RouteStop                = "stop"
	RouteStopStatus          = "stop_status"
	RouteSummary             = "summary"
	RouteSettingsGet         = "settings_get"
	RouteSettingsSave        = "settings_save"
	RouteMetrics             = "metrics"
	RouteAppSettingsGet      = "app_settings_get"
	RouteAppSettingsSave     = "app_settings_save"
	RouteDownload            = "download"
	RouteDownloadSampleSpace = "download_samplespace"
	RouteCleanup             = "cleanup"
)

// Options shapes the simulated batch.
type Options struct {
	// Executions is the initial sample setting. Defaults to 1.
	Executions int
	// Step is the progress added per poll of the running execution.
	// Defaults to 50.
	Step float64
	// Script overrides Step for an execution: the nth poll reports
	// Script[n-1], the last value repeating.
	Script map[int][]float64
	// ProgressErrors makes polls of an execution report an error.
	ProgressErrors map[int]string
	// StartError makes the start request fail with a 500.
	StartError string
	// BlockStart holds the start response until the batch finishes or is
	// stopped.
	BlockStart bool
	// FinishAfter completes the whole batch on its own this long after a
	// start request, regardless of polling.
	FinishAfter time.Duration
	// StopDelay is the number of stop status polls answered with
	// stopped:false after a stop request.
	StopDelay int
	// ProgressDelay is slept inside every progress request.
	ProgressDelay time.Duration
}

// Server is the fake job runner.
type Server struct {
	opts   Options
	router *mux.Router

	mu          sync.Mutex
	executions  int
	started     bool
	current     int // execution being advanced; executions+1 once finished
	polls       map[int]int
	stopRequest bool
	stopPolls   int
	done        chan struct{}
	appSettings map[string]any
	requests    map[string]int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

// New builds a fake runner with its routes registered.
func New(opts Options) *Server {
	if opts.Executions < 1 {
		opts.Executions = 1
	}
	if opts.Step <= 0 {
		opts.Step = 50
	}
	s := &Server{
		opts:       opts,
		router:     mux.NewRouter(),
		executions: opts.Executions,
		polls:      make(map[int]int),
		requests:   make(map[string]int),
		appSettings: map[string]any{
			"llm_settings": map[string]any{
				"provider":    "openai",
				"model":       "gpt-4o-mini",
				"max_tokens":  512,
				"temperature": 0.7,
			},
			"user_preference": map[string]any{
				"sample":    map[string]any{"sample_size": 10, "upload": false},
				"execution": map[string]any{"order": "sequential", "segmentation": false},
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/api/execution/start", s.handleStart).Methods(http.MethodPost).Name(RouteStart)
	r.HandleFunc("/api/execution/progress/{n:[0-9]+}", s.handleProgress).Methods(http.MethodGet).Name(RouteProgress)
	r.HandleFunc("/api/execution/stop", s.handleStop).Methods(http.MethodPost).Name(RouteStop)
	r.HandleFunc("/api/execution/stop", s.handleStopStatus).Methods(http.MethodGet).Name(RouteStopStatus)
	r.HandleFunc("/api/execution/summary", s.handleSummary).Methods(http.MethodGet).Name(RouteSummary)
	r.HandleFunc("/api/execution/metrics", s.handleMetrics).Methods(http.MethodGet).Name(RouteMetrics)
	r.HandleFunc("/api/execution/download/samplespace", s.handleDownloadSampleSpace).Methods(http.MethodGet).Name(RouteDownloadSampleSpace)
	r.HandleFunc("/api/execution/download/{format}/{n:[0-9]+}", s.handleDownload).Methods(http.MethodGet).Name(RouteDownload)
	r.HandleFunc("/sample/settings", s.handleSettingsGet).Methods(http.MethodGet).Name(RouteSettingsGet)
	r.HandleFunc("/sample/settings", s.handleSettingsSave).Methods(http.MethodPost).Name(RouteSettingsSave)
	r.HandleFunc("/api/settings", s.handleAppSettingsGet).Methods(http.MethodGet).Name(RouteAppSettingsGet)
	r.HandleFunc("/api/settings", s.handleAppSettingsSave).Methods(http.MethodPost).Name(RouteAppSettingsSave)
	r.HandleFunc("/cleanup", s.handleCleanup).Methods(http.MethodPost).Name(RouteCleanup)

	r.Use(s.countRequests)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			s.mu.Lock()
			s.requests[route.GetName()]++
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Requests returns how many requests hit the named route.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// MaxInflightProgress is the highest number of concurrent progress requests
// observed.
func (s *Server) MaxInflightProgress() int {
	return int(s.maxInflight.Load())
}

// SetExecutions changes the sample setting, as POST /sample/settings does.
func (s *Server) SetExecutions(n int) {
	s.mu.Lock()
	s.executions = n
	s.mu.Unlock()
}

// Finished reports whether every execution of the last batch reached 100%.
func (s *Server) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.current > s.executions
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.StartError != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": s.opts.StartError})
		return
	}

	s.mu.Lock()
	s.started = true
	s.current = 1
	s.polls = make(map[int]int)
	s.stopRequest = false
	s.stopPolls = 0
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	if s.opts.FinishAfter > 0 {
		time.AfterFunc(s.opts.FinishAfter, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.done == done && !s.stopRequest {
				s.current = s.executions + 1
				s.closeDoneLocked()
			}
		})
	}

	if !s.opts.BlockStart {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	select {
	case <-done:
	case <-r.Context().Done():
		return
	}

	s.mu.Lock()
	stopped := s.stopRequest && s.current <= s.executions
	s.mu.Unlock()
	if stopped {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "stopped": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		seen := s.maxInflight.Load()
		if n <= seen || s.maxInflight.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.opts.ProgressDelay > 0 {
		time.Sleep(s.opts.ProgressDelay)
	}

	exec, _ := strconv.Atoi(mux.Vars(r)["n"])

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := map[string]any{
		"success":           false,
		"progress":          0,
		"current_execution": exec,
		"total_executions":  s.executions,
	}
	if msg, ok := s.opts.ProgressErrors[exec]; ok {
		resp["error"] = msg
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if !s.started || exec < 1 || exec > s.current || exec > s.executions {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["success"] = true
	if exec < s.current {
		resp["progress"] = 100
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if !s.stopRequest {
		s.polls[exec]++
	}
	p := s.progressLocked(exec)
	resp["progress"] = p
	if p >= 100 {
		s.current++
		if s.current > s.executions {
			s.closeDoneLocked()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) progressLocked(exec int) float64 {
	polls := s.polls[exec]
	if polls == 0 {
		return 0
	}
	if script, ok := s.opts.Script[exec]; ok && len(script) > 0 {
		if polls > len(script) {
			polls = len(script)
		}
		return script[polls-1]
	}
	return math.Min(100, float64(polls)*s.opts.Step)
}

func (s *Server) closeDoneLocked() {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.stopRequest = true
	s.stopPolls = 0
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStopStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := false
	if s.stopRequest {
		s.stopPolls++
		stopped = s.stopPolls > s.opts.StopDelay
		if stopped {
			s.closeDoneLocked()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stopped": stopped})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.executions
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"total_executions": n})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"survey_length":  12,
		"agent_count":    10,
		"estimated_cost": 0.01234,
	})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := s.executions
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executions": n})
}

func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Executions json.RawMessage `json:"executions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}
	n, err := parseCount(req.Executions)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No executions provided"})
		return
	}
	s.SetExecutions(n)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Settings saved successfully"})
}

func parseCount(raw json.RawMessage) (int, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, err
	}
	return strconv.Atoi(str)
}

func (s *Server) handleAppSettingsGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.appSettings)
}

func (s *Server) handleAppSettingsSave(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	s.mu.Lock()
	for k, v := range req {
		s.appSettings[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	format := vars["format"]
	exec, _ := strconv.Atoi(vars["n"])

	s.mu.Lock()
	complete := s.started && exec >= 1 && exec < s.current
	s.mu.Unlock()
	if !complete {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("Execution %d not found", exec)})
		return
	}

	switch format {
	case "json":
		attach(w, "application/json", fmt.Sprintf("survey_responses_execution_%d.json", exec))
		fmt.Fprintf(w, "{\"agent_1\": {\"1\": \"yes\"}, \"agent_2\": {\"1\": \"no\"}}\n")
	case "csv":
		attach(w, "text/csv", fmt.Sprintf("survey_responses_execution_%d.csv", exec))
		fmt.Fprint(w, "agent_id,Q1\nagent_1,yes\nagent_2,no\n")
	case "samplespace":
		attach(w, "text/csv", fmt.Sprintf("sample_space_execution_%d.csv", exec))
		fmt.Fprint(w, "id,profile,weight\n1,age 30,1\n2,age 45,1\n")
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Unknown format"})
	}
}

func (s *Server) handleDownloadSampleSpace(w http.ResponseWriter, r *http.Request) {
	attach(w, "text/csv", "sample_profiles.csv")
	fmt.Fprint(w, "id,profile,weight\n1,age 30,1\n2,age 45,1\n")
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.started = false
	s.current = 0
	s.polls = make(map[int]int)
	s.stopRequest = false
	s.closeDoneLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func attach(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
