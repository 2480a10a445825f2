package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"go.uber.org/zap"
)

// Synthesis can take a long time for long texts
const ttsTimeout = 120 * time.Second

type ttsRequest struct {
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Emotion      string  `json:"emotion"`
	PitchStd     float64 `json:"pitch_std"`
	SpeakingRate float64 `json:"speaking_rate"`
}

// TTSClient requests MP3 synthesis from the text-to-speech service
type TTSClient struct {
	httpFetcher
	endpoint string
	language string
}

// NewTTSClient creates a TTS client from the application configuration
func NewTTSClient(logger *zap.Logger, cfg domain.Config) *TTSClient {
	return &TTSClient{
		httpFetcher: newHTTPFetcher(logger, ttsTimeout),
		endpoint:    cfg.GetTTSURL(),
		language:    cfg.GetTTSLanguage(),
	}
}

// Synthesize returns the MP3 bytes for text
func (c *TTSClient) Synthesize(ctx context.Context, text string, speed, pitch float64) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tts endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("output", "mp3")
	u.RawQuery = q.Encode()

	body, err := json.Marshal(ttsRequest{
		Text:         text,
		Language:     c.language,
		PitchStd:     pitch,
		SpeakingRate: speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	audio, err := c.do(req, _maxAudioSize)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}

	c.logger.Debug("Speech synthesized",
		zap.Int("bytes", len(audio)),
		zap.Duration("elapsed", time.Since(start)))
	return audio, nil
}
