package firmware

import (
	"os"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

const (
	// espImageMagic is the first byte of every bootable ESP image.
	espImageMagic = 0xE9

	// MaxImageSize is the 1 MiB flash capacity the write stage targets.
	MaxImageSize = 0x100000
)

// ValidateImage checks that path holds a flashable ESP binary: non-empty,
// within flash capacity, and carrying the ESP image magic byte.
func ValidateImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &NotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat image")
	}
	if info.Size() == 0 {
		return &InvalidImageError{Path: path, Reason: "empty file"}
	}
	if info.Size() > MaxImageSize {
		return &InvalidImageError{Path: path, Reason: "image exceeds 1MB flash capacity"}
	}

	var magic [1]byte
	if _, err := f.Read(magic[:]); err != nil {
		return errors.Wrap(err, "read image header")
	}
	if magic[0] != espImageMagic {
		return &InvalidImageError{Path: path, Reason: "missing ESP image magic byte"}
	}
	return nil
}
