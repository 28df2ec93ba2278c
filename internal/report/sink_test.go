package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures deliveries and fails on demand.
type recordingSink struct {
	mu       sync.Mutex
	name     string
	messages []Message
	files    []File
	failMsg  bool
	failFile bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) SendMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMsg {
		return errors.New("boom")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) UploadFile(_ context.Context, f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFile {
		return errors.New("boom")
	}
	s.files = append(s.files, f)
	return nil
}

func TestBroadcast_FailuresAreCounted(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", failMsg: true, failFile: true}
	msg := Message{Key: "2025-W02", Title: "t", Text: "x"}

	d := Broadcast(context.Background(), []Sink{bad, ok}, msg, &File{Name: "a.xlsx"})
	assert.Equal(t, Delivery{Sent: 2, Failed: 2}, d)
	require.Len(t, ok.messages, 1)
	require.Len(t, ok.files, 1)

	d = Broadcast(context.Background(), []Sink{ok}, msg, nil)
	assert.Equal(t, Delivery{Sent: 1}, d)
	assert.Len(t, ok.files, 1)
}

func TestWebhookSink(t *testing.T) {
	var mu sync.Mutex
	var got []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookSink(srv.URL, "#deals")
	ctx := context.Background()
	require.NoError(t, w.SendMessage(ctx, Message{Title: "Deal pipeline 2025-W02", Text: "Total deals: 9"}))
	require.NoError(t, w.UploadFile(ctx, File{Name: "pipeline-2025-W02.xlsx", Title: "Workbook", URL: "https://drive.test/f/1"}))
	require.NoError(t, w.UploadFile(ctx, File{Name: "pipeline-2025-W02.xlsx", Path: "/tmp/reports/pipeline-2025-W02.xlsx", Title: "Workbook"}))

	require.Len(t, got, 3)
	assert.Equal(t, "#deals", got[0].Channel)
	assert.Contains(t, got[0].Text, "*Deal pipeline 2025-W02*")
	assert.Contains(t, got[0].Text, "Total deals: 9")
	assert.Contains(t, got[1].Text, "<https://drive.test/f/1|pipeline-2025-W02.xlsx>")
	assert.Contains(t, got[2].Text, "saved to /tmp/reports/pipeline-2025-W02.xlsx")
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, "").SendMessage(context.Background(), Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
