// Package imagesource turns a request fragment into a decoded frame.
// Three mutually exclusive fields are consulted in strict priority:
// absolute image_path, session-relative image_filename, inline base64
// image. The first populated one wins.
package imagesource

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Typed failure taxonomy. The HTTP adapter maps these to 4xx.
var (
	ErrSourceMissing   = errors.New("no image source supplied")
	ErrSourceNotFound  = errors.New("image source not found")
	ErrSourceUnreadable = errors.New("image source could not be decoded")
	ErrSourceMalformed = errors.New("inline image payload is malformed")
)

// Variant records which source field produced the frame. Inline is
// reported as degraded: large payloads belong on the shared mount.
type Variant string

const (
	VariantPath     Variant = "path"
	VariantFilename Variant = "filename"
	VariantInline   Variant = "inline"
)

// Source is the per-group request fragment.
type Source struct {
	ImagePath     string `json:"image_path,omitempty"`
	ImageFilename string `json:"image_filename,omitempty"`
	Image         string `json:"image,omitempty"` // base64, data-URI tolerated
}

// Resolve decodes the frame for one capture group. inputDir is the
// session's input directory, used for the filename variant.
func Resolve(src Source, inputDir string) (image.Image, Variant, error) {
	switch {
	case src.ImagePath != "":
		img, err := decodeFile(src.ImagePath)
		return img, VariantPath, err

	case src.ImageFilename != "":
		// Session-relative names must stay inside input/. Absolute
		// reads are the image_path variant's job.
		if strings.ContainsAny(src.ImageFilename, `/\`) || strings.Contains(src.ImageFilename, "..") {
			return nil, VariantFilename, fmt.Errorf("%w: filename %q escapes the session input directory", ErrSourceNotFound, src.ImageFilename)
		}
		img, err := decodeFile(filepath.Join(inputDir, src.ImageFilename))
		return img, VariantFilename, err

	case src.Image != "":
		img, err := decodeInline(src.Image)
		return img, VariantInline, err

	default:
		return nil, "", ErrSourceMissing
	}
}

func decodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	return img, nil
}

func decodeInline(payload string) (image.Image, error) {
	// Tolerate a data-URI prefix: "data:image/jpeg;base64,...."
	if strings.HasPrefix(payload, "data:") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}
	return img, nil
}
