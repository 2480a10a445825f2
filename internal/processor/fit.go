package processor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const jpegQuality = 90

// ImageFitter letterboxes playlist images to the playback window so the
// player shows them at exact size on a black background
type ImageFitter struct {
	logger *zap.Logger
	dir    string
	group  singleflight.Group
}

// NewImageFitter creates a fitter writing its output under dir
func NewImageFitter(logger *zap.Logger, dir string) *ImageFitter {
	return &ImageFitter{
		logger: logger,
		dir:    dir,
	}
}

// Fit returns a width x height JPEG of the image at src, scaled to fit and centered.
// Unsized targets and GIFs (which may be animated) are returned unchanged.
// Results are cached on disk by source path, source version and target size.
func (p *ImageFitter) Fit(ctx context.Context, src string, width, height int) (string, error) {
	if width <= 0 || height <= 0 {
		return src, nil
	}
	if strings.EqualFold(filepath.Ext(src), ".gif") {
		return src, nil
	}

	out, err := p.outputPath(src, width, height)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}

	_, err, _ = p.group.Do(out, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, p.render(src, out, width, height)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// outputPath names the fitted file after a hash of the absolute source path, its
// size and mtime, so same-named images from different folders never collide and an
// edited source is re-rendered.
func (p *ImageFitter) outputPath(src string, width, height int) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		abs = src
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())))

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	name := fmt.Sprintf("%s_%s_%dx%d.jpg", stem, hex.EncodeToString(sum[:8]), width, height)
	return filepath.Join(p.dir, name), nil
}

func (p *ImageFitter) render(src, out string, width, height int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	// Scale down or up to fit, keeping aspect ratio
	p.logger.Debug("Letterboxing image",
		zap.String("src", src),
		zap.Int("w", width),
		zap.Int("h", height))
	fitted := imaging.Fit(img, width, height, imaging.Lanczos)
	if fb := fitted.Bounds(); fb.Dx() < width && fb.Dy() < height {
		// Fit never upscales; small sources are scaled up to the tighter edge
		fitted = imaging.Resize(img, width, 0, imaging.Lanczos)
		if fitted.Bounds().Dy() > height {
			fitted = imaging.Resize(img, 0, height, imaging.Lanczos)
		}
	}

	canvas := imaging.New(width, height, color.Black)
	offsetX := (width - fitted.Bounds().Dx()) / 2
	offsetY := (height - fitted.Bounds().Dy()) / 2
	result := imaging.Paste(canvas, fitted, image.Pt(offsetX, offsetY))

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, filepath.Base(out)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := imaging.Encode(tmp, result, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmpName, out); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit result: %w", err)
	}

	p.logger.Info("Image letterboxed",
		zap.String("path", out),
		zap.Int("w", width),
		zap.Int("h", height))
	return nil
}
