package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestConfigURLFromEnv(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), ".env")

	configURL, err := configURLFromEnv(
		missing,
		envFrom(map[string]string{configURLEnv: "http://config.local/pdf-to-image.toml"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "http://config.local/pdf-to-image.toml", configURL)

	_, err = configURLFromEnv(missing, envFrom(nil))
	require.ErrorIs(t, err, errMissingConfigURL)
}

func TestApplyEnvOverridesAndDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config

	applyEnvOverrides(&cfg, envFrom(nil))
	applyServiceDefaults(&cfg)

	assert.Equal(t, nats.DefaultURL, cfg.NATS.URL)
	assert.Equal(t, "png", cfg.Render.Format)
	assert.Equal(t, defaultDPI, cfg.Render.DPI)
	assert.Equal(t, defaultMaxDeliveries, cfg.Render.MaxDeliveries)
	assert.Equal(t, os.TempDir(), cfg.Paths.BaseLogsDir)

	cfg = Config{NATS: NATSConfig{URL: "nats://configured:4222"}}
	applyEnvOverrides(&cfg, envFrom(map[string]string{natsURLEnv: "nats://override:4222"}))
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
}

func TestRequestFor(t *testing.T) {
	t.Parallel()

	cfg := Config{Render: RenderConfig{Format: "PNG", DPI: 300, TimeoutSeconds: 60}}

	req := cfg.requestFor("/work/book.pdf", "/work/pages")
	assert.Equal(t, pdfrender.Request{
		PDFPath:   "/work/book.pdf",
		OutputDir: "/work/pages",
		Format:    pdfrender.FormatPNG,
		Timeout:   60 * time.Second,
		DPI:       300,
		BatchSize: pdfrender.DefaultBatchSize,
		Overwrite: true,
		SkipBlank: false,
	}, req)
	require.NoError(t, req.Validate())

	cfg.Render.Format = "tiff"
	require.ErrorIs(t, cfg.requestFor("/work/book.pdf", "/work/pages").Validate(),
		pdfrender.ErrInvalidParameter)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	header := &events.EventHeader{TenantID: "tenant-a", WorkflowID: "wf-42"}

	assert.Equal(t, "tenant-a/wf-42/page_0007.png", objectName(header, 7, pdfrender.FormatPNG))
	assert.Equal(t, "tenant-a/wf-42/page_1234.jpg", objectName(header, 1234, pdfrender.FormatJPG))
}

func TestNewPageCreatedEvent(t *testing.T) {
	t.Parallel()

	header := &events.EventHeader{
		WorkflowID: "wf-42",
		UserID:     "user-1",
		TenantID:   "tenant-a",
		EventID:    "source-event",
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	event := newPageCreatedEvent(header, "tenant-a/wf-42/page_0003.png", 12, 3, now)
	assert.Equal(t, "wf-42", event.Header.WorkflowID)
	assert.Equal(t, "user-1", event.Header.UserID)
	assert.Equal(t, "tenant-a", event.Header.TenantID)
	assert.NotEqual(t, "source-event", event.Header.EventID)
	assert.Equal(t, now, event.Header.Timestamp)
	assert.Equal(t, 3, event.PageNumber)
	assert.Equal(t, 12, event.TotalPages)

	_, parseErr := uuid.Parse(event.Header.EventID)
	require.NoError(t, parseErr)
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(events.PDFCreatedEvent{
		Header: events.EventHeader{WorkflowID: "wf-1", EventID: "e-1"},
		PDFKey: "tenant/wf-1/book.pdf",
	})
	require.NoError(t, err)

	event, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "tenant/wf-1/book.pdf", event.PDFKey)

	_, err = decodeEvent([]byte("{not json"))
	require.Error(t, err)

	keyless, err := json.Marshal(events.PDFCreatedEvent{
		Header: events.EventHeader{WorkflowID: "wf-2", EventID: "e-2"},
		PDFKey: "",
	})
	require.NoError(t, err)

	_, err = decodeEvent(keyless)
	require.Error(t, err)
}

func TestDispositionFor(t *testing.T) {
	t.Parallel()

	completed := pdfrender.Outcome{Status: pdfrender.StateCompleted, Written: 3, Total: 3}

	testCases := []struct {
		name     string
		outcome  pdfrender.Outcome
		err      error
		expected disposition
	}{
		{name: "Completed", outcome: completed, err: nil, expected: dispositionAck},
		{
			name:     "Unreadable document",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateFailed},
			err:      fmt.Errorf("failed to process PDF: %w", pdfrender.ErrDocumentUnreadable),
			expected: dispositionTerm,
		},
		{
			name:     "Invalid settings",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateFailed},
			err:      pdfrender.ErrUnknownEngine,
			expected: dispositionTerm,
		},
		{
			name:     "Engine missing",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateFailed},
			err:      pdfrender.ErrEngineUnavailable,
			expected: dispositionRetry,
		},
		{
			name:     "Shutdown",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateCancelled},
			err:      nil,
			expected: dispositionRetry,
		},
		{
			name:     "Failed pages",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateCompleted, Written: 2, Failed: 1},
			err:      nil,
			expected: dispositionRetry,
		},
		{
			name:     "Output directory",
			outcome:  pdfrender.Outcome{Status: pdfrender.StateFailed},
			err:      errors.New("permission denied"),
			expected: dispositionRetry,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, dispositionFor(testCase.outcome, testCase.err))
		})
	}
}

func TestPublishedPageCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, publishedPageCount(pdfrender.Outcome{Total: 5, Written: 5}))
	assert.Equal(t, 3, publishedPageCount(pdfrender.Outcome{Total: 5, Written: 3, Blank: 2}))
}

// countingMsg records InProgress calls; every other method is left unimplemented.
type countingMsg struct {
	jetstream.Msg

	inProgress atomic.Int32
}

func (msg *countingMsg) InProgress() error {
	msg.inProgress.Add(1)

	return nil
}

func TestConvertKeepsSlowPagesInProgress(t *testing.T) {
	t.Parallel()

	msg := &countingMsg{}
	j := &job{msg: msg}

	events := make(chan pdfrender.Event)
	go func() {
		defer close(events)

		events <- pdfrender.Event{Kind: pdfrender.EventBatchStarted}
		time.Sleep(120 * time.Millisecond)
		events <- pdfrender.Event{Kind: pdfrender.EventPageDone, Page: 1}
		time.Sleep(120 * time.Millisecond)
		events <- pdfrender.Event{Kind: pdfrender.EventPageDone, Page: 2}
	}()

	var handled []pdfrender.EventKind

	drainWithHeartbeat(events, 20*time.Millisecond, j.inProgress, func(event pdfrender.Event) {
		handled = append(handled, event.Kind)
	})

	assert.Equal(t, []pdfrender.EventKind{
		pdfrender.EventBatchStarted,
		pdfrender.EventPageDone,
		pdfrender.EventPageDone,
	}, handled)
	// One per event plus ticks across both slow pages.
	assert.GreaterOrEqual(t, int(msg.inProgress.Load()), 7)
}
