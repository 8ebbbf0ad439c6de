package media

import (
	"context"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"streamnest/internal/observability/metrics"
)

// objectStore abstracts the bucket operations the gateway needs. The MinIO
// client satisfies it through MinioStore; tests swap in a stub.
type objectStore interface {
	Put(ctx context.Context, key, localPath, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

// CloudGateway stores assets in an S3-compatible bucket and asks the
// transcoder for an HLS rendition of each video.
type CloudGateway struct {
	store      objectStore
	transcoder *TranscoderClient
	logger     *slog.Logger
}

// NewCloudGateway wires an object store and an optional transcoder client.
// A nil transcoder disables HLS renditions; videos are still stored.
func NewCloudGateway(store objectStore, transcoder *TranscoderClient, logger *slog.Logger) *CloudGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudGateway{store: store, transcoder: transcoder, logger: logger}
}

// Upload moves the staged file into the bucket. It removes the staged file
// exactly once before returning, on every path. A nil result is the only
// failure signal.
func (g *CloudGateway) Upload(ctx context.Context, localPath string) *UploadResult {
	if strings.TrimSpace(localPath) == "" {
		return nil
	}
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			g.logger.Warn("failed to remove staged upload", "path", localPath, "error", err)
		}
	}()

	if _, err := os.Stat(localPath); err != nil {
		g.logger.Error("staged upload missing", "path", localPath, "error", err)
		return nil
	}

	kind := ClassifyPath(localPath)
	ext := strings.ToLower(filepath.Ext(localPath))
	key := string(kind) + "/" + uuid.NewString() + ext

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := g.store.Put(ctx, key, localPath, contentType)
	if err != nil {
		g.logger.Error("object store upload failed", "key", key, "error", err)
		metrics.ObserveUpload(string(kind), false)
		return nil
	}
	metrics.ObserveUpload(string(kind), true)

	result := &UploadResult{URL: url, PublicID: key, Kind: kind}
	if kind == KindVideo && g.transcoder != nil {
		if job := g.transcoder.RequestHLS(ctx, url, key); job != nil {
			result.HLSURL = job.PlaybackURL
			result.Duration = job.Duration
		}
	}
	return result
}

// Destroy removes a stored asset by its public id.
func (g *CloudGateway) Destroy(ctx context.Context, publicID string) error {
	if strings.TrimSpace(publicID) == "" {
		return nil
	}
	return g.store.Remove(ctx, publicID)
}

var _ Gateway = (*CloudGateway)(nil)
