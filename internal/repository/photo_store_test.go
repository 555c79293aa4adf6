package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/capture"
)

func TestPhotoStoreSaveAndResolve(t *testing.T) {
	store := NewPhotoStore(t.TempDir())
	attemptID := uuid.New()
	photo := capture.Photo{
		Data:    []byte{0xff, 0xd8, 0xff, 0xd9},
		Digest:  strings.Repeat("ab", 32),
		TakenAt: time.Date(2026, 5, 4, 8, 15, 0, 0, time.UTC),
	}

	name, err := store.SavePhoto(context.Background(), attemptID, photo)
	if err != nil {
		t.Fatalf("SavePhoto: %v", err)
	}
	if name != "20260504081500-abababababababab.jpg" {
		t.Fatalf("name = %s", name)
	}

	p, err := store.Path(attemptID, name)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil || len(data) != 4 {
		t.Fatalf("stored %x, %v", data, err)
	}

	if _, err := store.Path(uuid.New(), name); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("other attempt: err = %v, want ErrPhotoNotFound", err)
	}
}

func TestPhotoStoreRejectsForeignNames(t *testing.T) {
	store := NewPhotoStore(t.TempDir())
	for _, name := range []string{"", "../../etc/passwd", "photo.jpg", "20260504081500-ABABABABABABABAB.jpg"} {
		if _, err := store.Path(uuid.New(), name); !errors.Is(err, ErrPhotoNotFound) {
			t.Errorf("Path(%q) = %v, want ErrPhotoNotFound", name, err)
		}
	}
}

func TestPhotoStoreRejectsEmptyPhoto(t *testing.T) {
	store := NewPhotoStore(t.TempDir())
	if _, err := store.SavePhoto(context.Background(), uuid.New(), capture.Photo{}); err == nil {
		t.Fatal("empty photo should fail")
	}
}
