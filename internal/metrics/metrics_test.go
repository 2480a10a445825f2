package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestRecorders(t *testing.T) {
	Init()
	Init() // second call must not panic on duplicate registration

	IncCommand("playlist", ResultSuccess)
	IncCommand("playlist", ResultSuccess)
	IncCommand("", ResultIgnored)
	ObserveDownload(ResultSuccess, 2048)
	ObserveDownload(ResultError, 0)
	SetConnectionState(domain.StateConnected)

	if got := testutil.ToFloat64(commandsTotal.WithLabelValues("playlist", ResultSuccess)); got != 2 {
		t.Errorf("expected 2 playlist commands, got %v", got)
	}
	if got := testutil.ToFloat64(commandsTotal.WithLabelValues("unknown", ResultIgnored)); got != 1 {
		t.Errorf("expected empty type counted as unknown, got %v", got)
	}
	if got := testutil.ToFloat64(downloadBytesTotal); got != 2048 {
		t.Errorf("expected 2048 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(connectionState); got != float64(domain.StateConnected) {
		t.Errorf("expected connected state, got %v", got)
	}
}

type addrConfig struct{ domain.Config }

func (addrConfig) GetMetricsAddr() string { return "127.0.0.1:0" }

type disabledConfig struct{ domain.Config }

func (disabledConfig) GetMetricsAddr() string { return "" }

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(zap.NewNop(), addrConfig{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	IncReconnect()

	addr := srv.Addr()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "signage_reconnects_total") {
		t.Error("expected signage_reconnects_total in scrape output")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}

func TestServer_Disabled(t *testing.T) {
	srv := NewServer(zap.NewNop(), disabledConfig{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("stop failed: %v", err)
	}
}
