package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/errwatch/errwatch/internal/testing"
	"github.com/errwatch/errwatch/source"
)

func newTestDispatcher(t *testing.T, store *ChannelStore) *ChannelDispatcher {
	t.Helper()
	return NewChannelDispatcher(store, DispatcherOptions{
		RequestsPerMinute: 600,
		AllowPrivateURLs:  true,
	}, nil)
}

func TestChannelDispatcherWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "secret", r.Header.Get("X-Hook-Token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)
	ch := &Channel{
		Name:   "ops hook",
		Type:   ChannelWebhook,
		Config: fmt.Sprintf(`{"url":%q,"headers":{"X-Hook-Token":"secret"}}`, srv.URL),
		Active: true,
	}
	require.NoError(t, store.Create(ch))

	d := newTestDispatcher(t, store)
	entry := &Entry{
		Destination: Destination{Type: DestChannel, Address: ch.ID},
		Kind:        KindNew,
		QueryID:     "q1",
		QueryName:   "failed orders",
		Errors:      []ErrorContext{{ErrorID: "e1", Row: source.Row{"order_id": 42}, OccurrenceCount: 1}},
	}
	require.NoError(t, d.Send(context.Background(), entry))

	assert.Equal(t, "errwatch.new", got["event"])
	assert.Equal(t, float64(1), got["count"])

	// Stats recorded on success.
	updated, err := store.Get(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TotalSent)
	assert.NotNil(t, updated.LastSentAt)
	assert.Nil(t, updated.LastError)
}

func TestChannelDispatcherTelegram(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)
	ch := &Channel{
		Name:   "tg",
		Type:   ChannelTelegram,
		Config: fmt.Sprintf(`{"bot_token":"tok","chat_id":"-100","api_base":%q}`, srv.URL),
		Active: true,
	}
	require.NoError(t, store.Create(ch))

	d := newTestDispatcher(t, store)
	entry := &Entry{
		Destination: Destination{Type: DestChannel, Address: ch.ID},
		Kind:        KindReminder,
		QueryName:   "stale jobs",
		Errors:      []ErrorContext{{Row: source.Row{"job": "sync"}, OccurrenceCount: 3}},
	}
	require.NoError(t, d.Send(context.Background(), entry))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Contains(t, got["text"], "Reminder")
	assert.Contains(t, got["text"], "job=sync")
}

func TestChannelDispatcherTeams(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)
	ch := &Channel{
		Name:   "teams",
		Type:   ChannelTeams,
		Config: fmt.Sprintf(`{"url":%q}`, srv.URL),
		Active: true,
	}
	require.NoError(t, store.Create(ch))

	d := newTestDispatcher(t, store)
	entry := &Entry{
		Destination: Destination{Type: DestChannel, Address: ch.ID},
		Kind:        KindNew,
		QueryName:   "failed orders",
		Errors:      []ErrorContext{{Row: source.Row{"id": 1}}},
	}
	require.NoError(t, d.Send(context.Background(), entry))

	assert.Equal(t, "MessageCard", got["@type"])
	assert.Contains(t, got["title"], "failed orders")
}

func TestChannelDispatcherRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)
	ch := &Channel{
		Name:   "flaky",
		Type:   ChannelWebhook,
		Config: fmt.Sprintf(`{"url":%q}`, srv.URL),
		Active: true,
	}
	require.NoError(t, store.Create(ch))

	d := newTestDispatcher(t, store)
	entry := &Entry{
		Destination: Destination{Type: DestChannel, Address: ch.ID},
		Kind:        KindNew,
		QueryName:   "x",
	}
	err := d.Send(context.Background(), entry)
	require.Error(t, err)

	updated, getErr := store.Get(ch.ID)
	require.NoError(t, getErr)
	assert.Zero(t, updated.TotalSent)
	require.NotNil(t, updated.LastError)
	assert.Contains(t, *updated.LastError, "502")
}

func TestChannelDispatcherInactiveChannelNoop(t *testing.T) {
	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)
	ch := &Channel{Name: "off", Type: ChannelWebhook, Config: `{"url":"http://example.com"}`, Active: false}
	require.NoError(t, store.Create(ch))

	d := newTestDispatcher(t, store)
	entry := &Entry{Destination: Destination{Type: DestChannel, Address: ch.ID}, Kind: KindNew}
	assert.NoError(t, d.Send(context.Background(), entry))
}

func TestChannelStoreBindings(t *testing.T) {
	db := testdb.CreateTestDB(t)
	store := NewChannelStore(db)

	now := "2026-01-01T00:00:00Z"
	_, err := db.Exec(`
		INSERT INTO monitored_queries (id, name, key_fields, created_at, updated_at)
		VALUES ('q1', 'q', 'id', ?, ?)`, now, now)
	require.NoError(t, err)

	ch := &Channel{Name: "hook", Type: ChannelWebhook, Config: `{"url":"http://example.com"}`, Active: true}
	require.NoError(t, store.Create(ch))
	off := &Channel{Name: "dormant", Type: ChannelWebhook, Config: `{"url":"http://example.com"}`, Active: false}
	require.NoError(t, store.Create(off))

	require.NoError(t, store.Bind("q1", ch.ID))
	require.NoError(t, store.Bind("q1", off.ID))
	// Bind is idempotent.
	require.NoError(t, store.Bind("q1", ch.ID))

	channels, err := store.ListForQuery("q1")
	require.NoError(t, err)
	// Only active channels come back.
	require.Len(t, channels, 1)
	assert.Equal(t, "hook", channels[0].Name)

	require.NoError(t, store.Unbind("q1", ch.ID))
	channels, err = store.ListForQuery("q1")
	require.NoError(t, err)
	assert.Empty(t, channels)
}
