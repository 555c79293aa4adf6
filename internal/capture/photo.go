package capture

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/crypto/blake2b"
)

// Photo is one identity snapshot ready to be stored and audited.
type Photo struct {
	Reason        string    `json:"reason"`
	Data          []byte    `json:"-"`
	Bytes         int       `json:"bytes"`
	OriginalBytes int       `json:"original_bytes"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Digest        string    `json:"digest"`
	TakenAt       time.Time `json:"taken_at"`
}

// Metadata returns the audit metadata for a photo_taken event.
func (p Photo) Metadata() map[string]any {
	return map[string]any{
		"reason":         p.Reason,
		"bytes":          p.Bytes,
		"original_bytes": p.OriginalBytes,
		"width":          p.Width,
		"height":         p.Height,
		"digest":         p.Digest,
	}
}

// Process decodes a raw frame, fits it within maxWidth (keeping the aspect
// ratio), re-encodes it as JPEG and digests the result with BLAKE2b-256.
func Process(raw []byte, maxWidth int) (Photo, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return Photo{}, fmt.Errorf("decode frame: %w", err)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return Photo{}, fmt.Errorf("encode frame: %w", err)
	}

	sum := blake2b.Sum256(buf.Bytes())
	return Photo{
		Data:          buf.Bytes(),
		Bytes:         buf.Len(),
		OriginalBytes: len(raw),
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		Digest:        hex.EncodeToString(sum[:]),
	}, nil
}
