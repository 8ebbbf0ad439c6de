package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubObjectStore struct {
	putErr  error
	puts    []string
	removes []string
}

func (s *stubObjectStore) Put(ctx context.Context, key, localPath, contentType string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts = append(s.puts, key)
	return "https://cdn.example.com/" + key, nil
}

func (s *stubObjectStore) Remove(ctx context.Context, key string) error {
	s.removes = append(s.removes, key)
	return nil
}

func stageFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return path
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]Kind{
		"avatar.png":    KindImage,
		"photo.JPG":     KindImage,
		"clip.mp4":      KindVideo,
		"clip.MKV":      KindVideo,
		"movie.webm":    KindVideo,
		"document.pdf":  KindImage,
		"no-extension":  KindImage,
		"archive.mov":   KindVideo,
		"recording.wmv": KindVideo,
	}
	for name, want := range cases {
		if got := ClassifyPath(name); got != want {
			t.Errorf("ClassifyPath(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestUploadImage(t *testing.T) {
	store := &stubObjectStore{}
	gateway := NewCloudGateway(store, nil, nil)
	path := stageFile(t, "avatar.png")

	result := gateway.Upload(context.Background(), path)
	if result == nil {
		t.Fatal("expected upload result")
	}
	if result.Kind != KindImage {
		t.Fatalf("expected image kind, got %q", result.Kind)
	}
	if !strings.HasPrefix(result.PublicID, "image/") || !strings.HasSuffix(result.PublicID, ".png") {
		t.Fatalf("unexpected public id %q", result.PublicID)
	}
	if result.URL != "https://cdn.example.com/"+result.PublicID {
		t.Fatalf("unexpected url %q", result.URL)
	}
	if result.HLSURL != "" {
		t.Fatalf("images must not request renditions, got %q", result.HLSURL)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("staged file must be removed after upload")
	}
}

func TestUploadRemovesStagedFileOnFailure(t *testing.T) {
	store := &stubObjectStore{putErr: errors.New("bucket unavailable")}
	gateway := NewCloudGateway(store, nil, nil)
	path := stageFile(t, "avatar.png")

	if result := gateway.Upload(context.Background(), path); result != nil {
		t.Fatal("expected nil result on store failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("staged file must be removed even when upload fails")
	}
}

func TestUploadMissingFile(t *testing.T) {
	gateway := NewCloudGateway(&stubObjectStore{}, nil, nil)
	if result := gateway.Upload(context.Background(), filepath.Join(t.TempDir(), "absent.png")); result != nil {
		t.Fatal("expected nil result for missing staged file")
	}
	if result := gateway.Upload(context.Background(), ""); result != nil {
		t.Fatal("expected nil result for empty path")
	}
}

func TestUploadVideoRequestsHLS(t *testing.T) {
	var gotJob hlsJobRequest
	transcoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer job-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotJob); err != nil {
			t.Errorf("decode job request: %v", err)
		}
		json.NewEncoder(w).Encode(HLSJob{
			JobID:       "job-1",
			PlaybackURL: "https://cdn.example.com/hls/job-1/index.m3u8",
			Duration:    12.5,
		})
	}))
	defer transcoder.Close()

	client := NewTranscoderClient(TranscoderConfig{
		BaseURL:   transcoder.URL,
		Token:     "job-token",
		NotifyURL: "https://api.example.com/internal/transcode-complete",
	})
	gateway := NewCloudGateway(&stubObjectStore{}, client, nil)
	path := stageFile(t, "clip.mp4")

	result := gateway.Upload(context.Background(), path)
	if result == nil {
		t.Fatal("expected upload result")
	}
	if result.Kind != KindVideo {
		t.Fatalf("expected video kind, got %q", result.Kind)
	}
	if result.HLSURL != "https://cdn.example.com/hls/job-1/index.m3u8" {
		t.Fatalf("unexpected hls url %q", result.HLSURL)
	}
	if result.Duration != 12.5 {
		t.Fatalf("unexpected duration %v", result.Duration)
	}
	if gotJob.SourceURL != result.URL {
		t.Fatalf("job source %q does not match stored url %q", gotJob.SourceURL, result.URL)
	}
	if gotJob.NotifyURL != "https://api.example.com/internal/transcode-complete" {
		t.Fatalf("unexpected notify url %q", gotJob.NotifyURL)
	}
}

func TestUploadVideoSurvivesTranscoderFailure(t *testing.T) {
	transcoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer transcoder.Close()

	client := NewTranscoderClient(TranscoderConfig{BaseURL: transcoder.URL})
	gateway := NewCloudGateway(&stubObjectStore{}, client, nil)
	path := stageFile(t, "clip.mp4")

	result := gateway.Upload(context.Background(), path)
	if result == nil {
		t.Fatal("stored video must be returned even when the transcoder rejects the job")
	}
	if result.HLSURL != "" || result.Duration != 0 {
		t.Fatalf("expected empty rendition fields, got %+v", result)
	}
}

func TestNewTranscoderClientDisabled(t *testing.T) {
	if client := NewTranscoderClient(TranscoderConfig{}); client != nil {
		t.Fatal("expected nil client without a base URL")
	}
	var client *TranscoderClient
	if job := client.RequestHLS(context.Background(), "https://x", "video/x.mp4"); job != nil {
		t.Fatal("nil client must return nil job")
	}
}

func TestDestroy(t *testing.T) {
	store := &stubObjectStore{}
	gateway := NewCloudGateway(store, nil, nil)

	if err := gateway.Destroy(context.Background(), "image/old.png"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if len(store.removes) != 1 || store.removes[0] != "image/old.png" {
		t.Fatalf("unexpected removes %v", store.removes)
	}
	if err := gateway.Destroy(context.Background(), "  "); err != nil {
		t.Fatalf("blank public id should be a no-op, got %v", err)
	}
	if len(store.removes) != 1 {
		t.Fatalf("blank public id must not hit the store, removes %v", store.removes)
	}
}
