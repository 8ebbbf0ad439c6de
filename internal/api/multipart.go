package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// stagedFile is a multipart file part streamed to local disk, waiting for the
// media gateway. The gateway takes ownership of the path and removes it.
type stagedFile struct {
	path         string
	originalName string
	size         int64
}

// multipartForm holds the decoded text fields and staged files of one
// multipart request, keyed by form field name.
type multipartForm struct {
	fields map[string]string
	files  map[string]*stagedFile
}

func (f *multipartForm) field(name string) string {
	return strings.TrimSpace(f.fields[name])
}

func (f *multipartForm) file(name string) *stagedFile {
	return f.files[name]
}

// discard removes every staged file that was not handed to the gateway.
func (f *multipartForm) discard() {
	for _, file := range f.files {
		if file != nil && file.path != "" {
			_ = os.Remove(file.path)
		}
	}
	f.files = nil
}

// readMultipartForm streams a multipart request, staging each file part under
// dir. Repeated file fields keep the first part only.
func readMultipartForm(r *http.Request, dir string) (*multipartForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart payload")
	}
	form := &multipartForm{
		fields: make(map[string]string),
		files:  make(map[string]*stagedFile),
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			form.discard()
			return nil, fmt.Errorf("read multipart data: %w", err)
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if part.FileName() != "" {
			if _, exists := form.files[name]; exists {
				_ = part.Close()
				continue
			}
			staged, saveErr := stageMultipartFile(part, dir)
			if saveErr != nil {
				form.discard()
				return nil, saveErr
			}
			form.files[name] = staged
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			form.discard()
			return nil, fmt.Errorf("read form field: %w", readErr)
		}
		form.fields[name] = string(payload)
	}
	return form, nil
}

func stageMultipartFile(part *multipart.Part, dir string) (*stagedFile, error) {
	defer part.Close()

	ext := filepath.Ext(part.FileName())
	tmp, err := os.CreateTemp(dir, "staged-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	written, err := io.Copy(tmp, part)
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("close staging file: %w", err)
	}
	return &stagedFile{
		path:         tmp.Name(),
		originalName: part.FileName(),
		size:         written,
	}, nil
}
