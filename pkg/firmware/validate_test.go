package firmware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateImage(t *testing.T) {
	write := func(t *testing.T, data []byte) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "img.bin")
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("write image: %v", err)
		}
		return path
	}

	t.Run("valid", func(t *testing.T) {
		if err := ValidateImage(write(t, validImage(512))); err != nil {
			t.Errorf("valid image rejected: %v", err)
		}
	})

	t.Run("exactly flash capacity", func(t *testing.T) {
		if err := ValidateImage(write(t, validImage(MaxImageSize))); err != nil {
			t.Errorf("1MB image rejected: %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := ValidateImage(write(t, nil))
		var inv *InvalidImageError
		if !errors.As(err, &inv) {
			t.Errorf("err = %v, want InvalidImageError", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		err := ValidateImage(write(t, validImage(MaxImageSize+1)))
		var inv *InvalidImageError
		if !errors.As(err, &inv) {
			t.Errorf("err = %v, want InvalidImageError", err)
		}
	})

	t.Run("wrong magic", func(t *testing.T) {
		img := validImage(512)
		img[0] = 0x7F
		err := ValidateImage(write(t, img))
		var inv *InvalidImageError
		if !errors.As(err, &inv) {
			t.Errorf("err = %v, want InvalidImageError", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		err := ValidateImage(filepath.Join(t.TempDir(), "absent.bin"))
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("err = %v, want NotFoundError", err)
		}
	})
}
