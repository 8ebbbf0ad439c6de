// Package media moves staged uploads into durable object storage and, for
// video, requests an HLS rendition from the transcoder. Callers hand over a
// staged local file and receive a playback descriptor; the gateway owns the
// staged file from that point and removes it exactly once, whether the upload
// succeeds or fails.
package media

import (
	"context"
	"path/filepath"
	"strings"
)

// Kind classifies an uploaded asset by its delivery pipeline.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".mkv":  {},
	".webm": {},
}

// ClassifyPath maps a filename extension to a Kind. Anything that is not a
// known video container is treated as an image.
func ClassifyPath(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo
	}
	return KindImage
}

// UploadResult describes a stored asset. HLSURL and Duration are populated
// only for videos whose eager transcode completed in time.
type UploadResult struct {
	URL      string  `json:"url"`
	PublicID string  `json:"publicId"`
	Kind     Kind    `json:"kind"`
	HLSURL   string  `json:"hlsUrl,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Gateway is the upload surface handlers depend on. Upload returns nil on any
// failure; there is no error channel, matching the fire-and-forget contract
// callers hold for staged files. Destroy removes a previously stored asset and
// is best effort at call sites replacing avatars or cover images.
type Gateway interface {
	Upload(ctx context.Context, localPath string) *UploadResult
	Destroy(ctx context.Context, publicID string) error
}
