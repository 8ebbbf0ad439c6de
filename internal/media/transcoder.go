package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamnest/internal/observability/metrics"
)

// TranscoderConfig points at the HLS transcoder's job API. NotifyURL, when
// set, is passed on each job so the transcoder can call back once the full
// rendition ladder is ready; the synchronous response carries only the eager
// first rendition.
type TranscoderConfig struct {
	BaseURL    string
	Token      string
	NotifyURL  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// TranscoderClient submits HLS jobs over REST.
type TranscoderClient struct {
	cfg    TranscoderConfig
	logger *slog.Logger
}

// NewTranscoderClient returns nil when no base URL is configured, which
// disables renditions without a separate feature flag.
func NewTranscoderClient(cfg TranscoderConfig) *TranscoderClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscoderClient{cfg: cfg, logger: logger}
}

type hlsJobRequest struct {
	SourceURL string `json:"sourceUrl"`
	OutputKey string `json:"outputKey"`
	Format    string `json:"format"`
	NotifyURL string `json:"notifyUrl,omitempty"`
}

// HLSJob is the transcoder's eager response for a submitted job.
type HLSJob struct {
	JobID       string  `json:"jobId"`
	PlaybackURL string  `json:"playbackUrl"`
	Duration    float64 `json:"duration"`
}

// RequestHLS submits a job for the stored video and returns the eager result,
// or nil when the transcoder is unreachable or rejects the job. Upload flows
// treat renditions as best effort, so failures are logged rather than
// propagated.
func (c *TranscoderClient) RequestHLS(ctx context.Context, sourceURL, outputKey string) *HLSJob {
	if c == nil {
		return nil
	}
	payload := hlsJobRequest{
		SourceURL: sourceURL,
		OutputKey: outputKey,
		Format:    "hls",
		NotifyURL: c.cfg.NotifyURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("encode transcode job", "error", err)
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/jobs"
	req, err := http.NewRequestWithContext(jobCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build transcode request", "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	client := c.cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.cfg.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Warn("transcoder unreachable", "error", err)
		metrics.ObserveTranscodeJob("unreachable")
		return nil
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("transcoder rejected job", "status", resp.Status, "output_key", outputKey)
		metrics.ObserveTranscodeJob("rejected")
		return nil
	}

	var job HLSJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		c.logger.Warn("decode transcode response", "error", err)
		return nil
	}
	if job.PlaybackURL == "" {
		c.logger.Warn("transcoder returned no playback URL", "job_id", job.JobID)
		return nil
	}
	c.logger.Info("hls job accepted", "job_id", job.JobID, "output_key", outputKey)
	metrics.ObserveTranscodeJob("accepted")
	return &job
}

func (c *TranscoderClient) String() string {
	if c == nil {
		return "transcoder disabled"
	}
	return fmt.Sprintf("transcoder at %s", c.cfg.BaseURL)
}
