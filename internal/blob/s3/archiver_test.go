package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperledger/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

type stubTrades []domain.Trade

func (s stubTrades) ListBefore(context.Context, time.Time) ([]domain.Trade, error) { return s, nil }

type stubPositions []domain.Position

func (s stubPositions) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return s, nil
}

type auditRecorder struct{ events []string }

func (a *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditRecorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type alertRecorder struct{ messages []string }

func (a *alertRecorder) Notify(_ context.Context, event, _, message string) error {
	a.messages = append(a.messages, event+": "+message)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveRunWritesJSONL(t *testing.T) {
	before := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	trades := stubTrades{
		{ID: "t1", UserID: "u1", Symbol: "AAPL", Action: domain.ActionBuy, Quantity: 10, Price: 100},
		{ID: "t2", UserID: "u1", Symbol: "AAPL", Action: domain.ActionSell, Quantity: 10, Price: 110},
	}
	positions := stubPositions{{ID: "p1", UserID: "u1", Symbol: "AAPL", RealizedPnL: 100}}

	w := newMemWriter()
	audit := &auditRecorder{}
	alerts := &alertRecorder{}
	a := NewArchiver(w, trades, positions, audit, alerts, discardLogger())

	require.NoError(t, a.Run(context.Background(), before))

	body := w.objects["archive/trades/2025-01.jsonl"]
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"t1"`)
	assert.Equal(t, "application/x-ndjson", w.types["archive/trades/2025-01.jsonl"])

	assert.Contains(t, string(w.objects["archive/positions/2025-01.jsonl"]), `"id":"p1"`)
	assert.Equal(t, []string{"archive.trades", "archive.positions"}, audit.events)
	require.Len(t, alerts.messages, 1)
	assert.Equal(t, "archive: Archived 2 trades and 1 closed positions before 2025-01-31", alerts.messages[0])
}

func TestArchiveSkipsEmpty(t *testing.T) {
	w := newMemWriter()
	alerts := &alertRecorder{}
	a := NewArchiver(w, stubTrades{}, stubPositions{}, nil, alerts, discardLogger())

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, a.Run(context.Background(), time.Now()))
	assert.Empty(t, w.objects)
	assert.Empty(t, alerts.messages)
}

func TestArchiveUploadError(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("denied")
	a := NewArchiver(w, stubTrades{{ID: "t1"}}, stubPositions{}, nil, nil, discardLogger())

	_, err := a.ArchiveTrades(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestMarshalJSONLKeepsHTML(t *testing.T) {
	b, err := marshalJSONL([]domain.Trade{{ID: "t1", Notes: "<b>"}})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(b, []byte(`"notes":"<b>"`)))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
