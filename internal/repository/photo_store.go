package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/capture"
)

// ErrPhotoNotFound is returned by Path for unknown or malformed names.
var ErrPhotoNotFound = errors.New("photo not found")

var photoName = regexp.MustCompile(`^[0-9]{14}-[0-9a-f]{16}\.jpg$`)

// PhotoStore keeps identity snapshots on local disk, one directory per attempt.
type PhotoStore struct {
	root string
}

// NewPhotoStore stores photos under uploadDir/snapshots.
func NewPhotoStore(uploadDir string) *PhotoStore {
	return &PhotoStore{root: filepath.Join(uploadDir, "snapshots")}
}

// SavePhoto writes the JPEG and returns its name, which is unique within the
// attempt and is what audit metadata records as "ref".
func (s *PhotoStore) SavePhoto(ctx context.Context, attemptID uuid.UUID, photo capture.Photo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(photo.Data) == 0 {
		return "", errors.New("empty photo")
	}

	dir := filepath.Join(s.root, attemptID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create photo dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.jpg", photo.TakenAt.UTC().Format("20060102150405"), photo.Digest[:16])
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	if _, err := tmp.Write(photo.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store photo: %w", err)
	}
	return name, nil
}

// Path resolves a stored photo. Names that SavePhoto could not have
// produced are rejected before touching the filesystem.
func (s *PhotoStore) Path(attemptID uuid.UUID, name string) (string, error) {
	if !photoName.MatchString(name) {
		return "", ErrPhotoNotFound
	}
	p := filepath.Join(s.root, attemptID.String(), name)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrPhotoNotFound
		}
		return "", fmt.Errorf("stat photo: %w", err)
	}
	return p, nil
}
