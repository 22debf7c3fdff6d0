package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/config"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/metrics"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/pipeline"
)

type fakeCycles struct {
	mu       sync.Mutex
	scans    int
	rechecks int
	scanErr  error
}

func (f *fakeCycles) ScanCycle(context.Context) (pipeline.ScanSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return pipeline.ScanSummary{Seen: 2, Uploaded: 1, Skipped: 1}, f.scanErr
}

func (f *fakeCycles) Recheck(context.Context) (pipeline.RecheckSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rechecks++
	return pipeline.RecheckSummary{Checked: 1}, nil
}

func (f *fakeCycles) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans, f.rechecks
}

func TestNewMirrorRejectsNilConfig(t *testing.T) {
	if _, err := NewMirror(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestNewMirrorFailsWithoutHostsFile(t *testing.T) {
	cfg := &config.Config{HostsFile: filepath.Join(t.TempDir(), "missing.yaml")}
	if _, err := NewMirror(context.Background(), cfg, logger.NopLogger{}); err == nil {
		t.Fatalf("expected error for missing hosts file")
	}
}

func TestNewMirrorFailsWithoutEnabledBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	data := []byte("backends:\n  - id: off\n    type: ipfs\n    enabled: false\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write hosts: %v", err)
	}
	cfg := &config.Config{HostsFile: path}
	if _, err := NewMirror(context.Background(), cfg, logger.NopLogger{}); err == nil {
		t.Fatalf("expected error when no backend is enabled")
	}
}

func TestNewMirrorReportsAuthFailureToOperators(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/bounce_login.php?b=d", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("<html><body>login</body></html>"))
	}))
	defer source.Close()

	var mu sync.Mutex
	var chats []string
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID string `json:"chat_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		chats = append(chats, body.ChatID)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer bot.Close()

	dir := t.TempDir()
	hosts := filepath.Join(dir, "hosts.yaml")
	data := []byte("backends:\n  - id: ipfs\n    type: ipfs\n    ipfs:\n      endpoint: http://127.0.0.1:1/add\n")
	if err := os.WriteFile(hosts, data, 0o600); err != nil {
		t.Fatalf("write hosts: %v", err)
	}
	cfg := &config.Config{
		HostsFile:            hosts,
		StorageType:          "bbolt",
		BBoltPath:            filepath.Join(dir, "ledger.db"),
		SourceBaseURL:        source.URL,
		SourceCredential:     "ipb_member_id=1; ipb_pass_hash=abc",
		TelegramAPIURL:       bot.URL,
		TelegramToken:        "token",
		OperatorChatIDs:      []string{"op1", "op2"},
		HTTPTimeout:          5 * time.Second,
		NetworkRetryAttempts: 1,
		LogicRetryAttempts:   1,
	}

	_, err := NewMirror(context.Background(), cfg, logger.NopLogger{})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(chats) != 2 || chats[0] != "op1" || chats[1] != "op2" {
		t.Fatalf("operators notified = %v", chats)
	}
}

func TestRunRequiresInitializedMirror(t *testing.T) {
	var m *Mirror
	if err := m.Run(context.Background()); err == nil {
		t.Fatalf("expected error for nil mirror")
	}
}

func TestRunScansOnStartAndOnTicks(t *testing.T) {
	fake := &fakeCycles{}
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	closed := false
	m := &Mirror{
		cycles:          fake,
		metrics:         collector,
		scanInterval:    10 * time.Millisecond,
		recheckInterval: 15 * time.Millisecond,
		closers:         []namedCloser{{name: "ledger", close: func() error { closed = true; return nil }}},
		log:             logger.NopLogger{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	scans, rechecks := fake.counts()
	if scans < 2 {
		t.Fatalf("expected initial and scheduled scans, got %d", scans)
	}
	if rechecks < 1 {
		t.Fatalf("expected at least one recheck, got %d", rechecks)
	}
	if !closed {
		t.Fatalf("expected resources to be closed on exit")
	}
	if n := testutil.CollectAndCount(reg, "mirror_scan_duration_seconds"); n != 1 {
		t.Fatalf("expected scan duration histogram, got %d series", n)
	}
}

func TestRunKeepsGoingAfterFailedScan(t *testing.T) {
	fake := &fakeCycles{scanErr: errors.New("source down")}
	m := &Mirror{
		cycles:       fake,
		scanInterval: 5 * time.Millisecond,
		log:          logger.NopLogger{},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if scans, rechecks := fake.counts(); scans < 2 || rechecks != 0 {
		t.Fatalf("unexpected counts scans=%d rechecks=%d", scans, rechecks)
	}
}

func TestShutdownClosesInReverseOrder(t *testing.T) {
	var order []string
	m := &Mirror{log: logger.NopLogger{}}
	for _, name := range []string{"ledger", "source", "publishers"} {
		m.closers = append(m.closers, namedCloser{name: name, close: func() error {
			order = append(order, name)
			if name == "source" {
				return errors.New("boom")
			}
			return nil
		}})
	}
	m.shutdown()
	want := []string{"publishers", "source", "ledger"}
	if len(order) != len(want) {
		t.Fatalf("unexpected close order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected close order %v", order)
		}
	}
	m.shutdown()
	if len(order) != 3 {
		t.Fatalf("shutdown must be idempotent")
	}
}
