package executor

import (
	"image"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

var fallbackResolution = domain.ScreenResolution{Width: 1920, Height: 1080}

// NewScreenResolution detects the resolution of the display the player opens on
func NewScreenResolution(logger *zap.Logger) *domain.ScreenResolution {
	n := screenshot.NumActiveDisplays()
	bounds := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		bounds = append(bounds, screenshot.GetDisplayBounds(i))
	}

	res, ok := pickDisplay(bounds)
	if !ok {
		logger.Warn("No active displays detected, using fallback resolution",
			zap.Int("width", res.Width),
			zap.Int("height", res.Height))
		return &res
	}

	logger.Info("Screen resolution detected",
		zap.Int("displays", n),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))
	return &res
}

// pickDisplay prefers the display at the desktop origin, then the first non-empty one
func pickDisplay(bounds []image.Rectangle) (domain.ScreenResolution, bool) {
	first := -1
	for i, b := range bounds {
		if b.Empty() {
			continue
		}
		if b.Min == (image.Point{}) {
			return domain.ScreenResolution{Width: b.Dx(), Height: b.Dy()}, true
		}
		if first < 0 {
			first = i
		}
	}
	if first < 0 {
		return fallbackResolution, false
	}
	b := bounds[first]
	return domain.ScreenResolution{Width: b.Dx(), Height: b.Dy()}, true
}
