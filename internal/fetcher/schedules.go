package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"go.uber.org/zap"
)

// ScheduleClient reads broadcast schedules from the control server's REST surface
type ScheduleClient struct {
	httpFetcher
	host   string
	apiKey string
}

// NewScheduleClient creates a client for host, authenticating with apiKey
func NewScheduleClient(logger *zap.Logger, host, apiKey string) *ScheduleClient {
	return &ScheduleClient{
		httpFetcher: newHTTPFetcher(logger, 10*time.Second),
		host:        strings.TrimRight(host, "/"),
		apiKey:      apiKey,
	}
}

func (c *ScheduleClient) header() http.Header {
	h := http.Header{}
	h.Set("X-API-Key", c.apiKey)
	h.Set("Accept", "application/json")
	return h
}

// ListSchedules fetches every schedule assigned to this device.
// Both {"schedules": [...]} and a bare array are accepted. Entries that fail to
// decode are logged and left out.
func (c *ScheduleClient) ListSchedules(ctx context.Context) ([]domain.ScheduleEntry, error) {
	data, err := c.get(ctx, c.host+"/broadcast-schedules", c.header())
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	data = bytes.TrimSpace(data)
	var raw []json.RawMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode schedules: %w", err)
		}
	} else {
		var envelope struct {
			Schedules []json.RawMessage `json:"schedules"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode schedules: %w", err)
		}
		raw = envelope.Schedules
	}

	// A malformed entry is skipped so the rest of the timetable still runs
	entries := make([]domain.ScheduleEntry, 0, len(raw))
	for i, item := range raw {
		var entry domain.ScheduleEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			c.logger.Warn("Skipping malformed schedule",
				zap.Int("index", i),
				zap.ByteString("entry", item),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	c.logger.Debug("Schedules fetched", zap.Int("count", len(entries)))
	return entries, nil
}

// GetSchedule fetches a single schedule by id. A 404 wraps ErrNotFound.
func (c *ScheduleClient) GetSchedule(ctx context.Context, id string) (domain.ScheduleEntry, error) {
	data, err := c.get(ctx, c.host+"/broadcast-schedules/"+url.PathEscape(id), c.header())
	if err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}

	var envelope struct {
		Schedule *domain.ScheduleEntry `json:"schedule"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if envelope.Schedule == nil {
		return domain.ScheduleEntry{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return *envelope.Schedule, nil
}
