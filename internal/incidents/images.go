package incidents

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrImagePersist marks a submission whose image could not be stored.
	// The textual incident record is still retained.
	ErrImagePersist = errors.New("incident image not persisted")
)

// extForMIME maps the image MIME type to a file extension.
// Anything that is not PNG is stored as jpg.
func extForMIME(mime string) string {
	if mime == "image/png" {
		return "png"
	}
	return "jpg"
}

// decodeImage accepts raw base64 or a data URI ("data:image/png;base64,...").
// The data URI's MIME wins over the separately supplied one.
func decodeImage(data, mime string) ([]byte, string, error) {
	if strings.HasPrefix(data, "data:") {
		rest := strings.TrimPrefix(data, "data:")
		meta, b64, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		if m, _, ok := strings.Cut(meta, ";"); ok && m != "" {
			mime = m
		}
		data = b64
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("base64 decode: %v", err)
	}
	return raw, mime, nil
}

// writeImage persists the decoded image as <imageDir>/<id>.<ext> and returns
// the relative path stored on the incident record.
func (s *Store) writeImage(id, data, mime string) (string, error) {
	raw, mime, err := decodeImage(data, mime)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.imageDir, 0750); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s.%s", id, extForMIME(mime))
	full := filepath.Join(s.imageDir, filename)
	if err := os.WriteFile(full, raw, 0640); err != nil {
		return "", err
	}

	// The record references the relative path, not the binary.
	return filepath.ToSlash(filepath.Join(filepath.Base(s.imageDir), filename)), nil
}
