package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type uploadLabel struct {
	kind   string
	result string
}

// Recorder aggregates in-memory counters for HTTP requests, media uploads,
// transcode jobs, and auth events, and renders them in Prometheus text
// exposition format.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadEvents    map[uploadLabel]uint64
	transcodeJobs   map[string]uint64
	authEvents      map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadEvents:    make(map[uploadLabel]uint64),
		transcodeJobs:   make(map[string]uint64),
		authEvents:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by the package helpers.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUpload records one media gateway upload outcome by asset kind.
func (r *Recorder) ObserveUpload(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	label := uploadLabel{kind: normalizeName(kind), result: result}
	r.mu.Lock()
	r.uploadEvents[label]++
	r.mu.Unlock()
}

// ObserveTranscodeJob records a transcode job submission outcome
// ("accepted", "rejected", "unreachable").
func (r *Recorder) ObserveTranscodeJob(outcome string) {
	r.mu.Lock()
	r.transcodeJobs[normalizeName(outcome)]++
	r.mu.Unlock()
}

// ObserveAuthEvent records an auth workflow event
// (e.g. "login_ok", "login_failed", "refresh_ok", "register_ok").
func (r *Recorder) ObserveAuthEvent(event string) {
	r.mu.Lock()
	r.authEvents[normalizeName(event)]++
	r.mu.Unlock()
}

// AuthEventCounts returns a copy of the auth event counters for tests.
func (r *Recorder) AuthEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.authEvents))
	for k, v := range r.authEvents {
		out[k] = v
	}
	return out
}

// Reset clears all counters. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadEvents = make(map[uploadLabel]uint64)
	r.transcodeJobs = make(map[string]uint64)
	r.authEvents = make(map[string]uint64)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadLabels := r.sortedUploadLabels()
	transcodeOutcomes := sortedKeys(r.transcodeJobs)
	authEvents := sortedKeys(r.authEvents)

	fmt.Fprintln(w, "# HELP streamnest_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamnest_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamnest_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamnest_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamnest_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamnest_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamnest_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamnest_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamnest_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamnest_media_uploads_total Media gateway uploads by asset kind and result")
	fmt.Fprintln(w, "# TYPE streamnest_media_uploads_total counter")
	for _, label := range uploadLabels {
		fmt.Fprintf(w, "streamnest_media_uploads_total{kind=\"%s\",result=\"%s\"} %d\n", label.kind, label.result, r.uploadEvents[label])
	}

	fmt.Fprintln(w, "# HELP streamnest_transcode_jobs_total Transcode job submissions by outcome")
	fmt.Fprintln(w, "# TYPE streamnest_transcode_jobs_total counter")
	for _, outcome := range transcodeOutcomes {
		fmt.Fprintf(w, "streamnest_transcode_jobs_total{outcome=\"%s\"} %d\n", outcome, r.transcodeJobs[outcome])
	}

	fmt.Fprintln(w, "# HELP streamnest_auth_events_total Auth workflow events by type")
	fmt.Fprintln(w, "# TYPE streamnest_auth_events_total counter")
	for _, event := range authEvents {
		fmt.Fprintf(w, "streamnest_auth_events_total{event=\"%s\"} %d\n", event, r.authEvents[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedUploadLabels() []uploadLabel {
	labels := make([]uploadLabel, 0, len(r.uploadEvents))
	for label := range r.uploadEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].kind != labels[j].kind {
			return labels[i].kind < labels[j].kind
		}
		return labels[i].result < labels[j].result
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// Route segments are fixed words; anything long or digit-heavy is an id.
func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 20 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUpload records an upload outcome on the default recorder.
func ObserveUpload(kind string, ok bool) {
	defaultRecorder.ObserveUpload(kind, ok)
}

// ObserveTranscodeJob records a transcode submission on the default recorder.
func ObserveTranscodeJob(outcome string) {
	defaultRecorder.ObserveTranscodeJob(outcome)
}

// ObserveAuthEvent records an auth event on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
