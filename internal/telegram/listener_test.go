package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/command"
)

const mintA = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"

type call struct {
	name   string
	asset  string
	target float64
	size   command.SizeSpec
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeCommander) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeCommander) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeCommander) OpenPosition(ctx context.Context, assetID string, target float64, size command.SizeSpec) (command.Result, error) {
	f.record(call{name: "open", asset: assetID, target: target, size: size})
	return command.Result{OK: true, Summary: "watching " + assetID}, nil
}

func (f *fakeCommander) ClosePosition(ctx context.Context, assetID string) (command.Result, error) {
	f.record(call{name: "close", asset: assetID})
	return command.Result{OK: true, Summary: "closed " + assetID}, nil
}

func (f *fakeCommander) ReportPnL(ctx context.Context) (command.Result, error) {
	f.record(call{name: "report"})
	return command.Result{OK: true, Summary: "report text"}, nil
}

func (f *fakeCommander) GetBalance(ctx context.Context) (command.Result, error) {
	f.record(call{name: "balance"})
	return command.Result{OK: true, Summary: "balance text"}, nil
}

func newListener(commands Commander) *Listener {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Token: "test-token", AllowedChatID: 42, PollTimeout: time.Second}, commands, logger)
}

func TestDispatchBuy(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{}
	l := newListener(commander)

	reply := l.dispatch(context.Background(), fmt.Sprintf("/buy %s 250000 25%%", mintA))
	assert.Equal(t, "watching "+mintA, reply)

	calls := commander.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "open", calls[0].name)
	assert.Equal(t, mintA, calls[0].asset)
	assert.Equal(t, 250_000.0, calls[0].target)
	assert.True(t, calls[0].size.IsPercent)
	assert.Equal(t, 25.0, calls[0].size.Percent)
}

func TestDispatchBuyRejectsBadArguments(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{}
	l := newListener(commander)

	assert.Contains(t, l.dispatch(context.Background(), "/buy"), "Usage:")
	assert.Contains(t, l.dispatch(context.Background(), "/buy mint nope 1"), "Invalid market cap")
	assert.Contains(t, l.dispatch(context.Background(), "/buy mint 250000 nope"), "Invalid size")
	assert.Empty(t, commander.recorded())
}

func TestDispatchSellReportBalanceHelp(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{}
	l := newListener(commander)
	ctx := context.Background()

	assert.Equal(t, "closed "+mintA, l.dispatch(ctx, "/sell "+mintA))
	assert.Equal(t, "report text", l.dispatch(ctx, "/report"))
	assert.Equal(t, "balance text", l.dispatch(ctx, "/balance"))
	assert.Contains(t, l.dispatch(ctx, "/help"), "/buy")
	assert.Contains(t, l.dispatch(ctx, "/bogus"), "Unknown command")

	names := make([]string, 0, 3)
	for _, c := range commander.recorded() {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"close", "report", "balance"}, names)
}

func TestDispatchIgnoresPlainText(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{}
	l := newListener(commander)

	assert.Empty(t, l.dispatch(context.Background(), "just chatting"))
	assert.Empty(t, commander.recorded())
}

func TestDispatchStripsBotMention(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{}
	l := newListener(commander)

	assert.Equal(t, "report text", l.dispatch(context.Background(), "/report@tierbot"))
}

func TestRunDispatchesAndRepliesOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sent []string
	served := false

	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		first := !served
		served = true
		mu.Unlock()

		var updates []map[string]any
		if first {
			updates = []map[string]any{
				{
					"update_id": 7,
					"message":   map[string]any{"chat": map[string]any{"id": 42}, "text": "/balance"},
				},
				{
					// Unauthorized chat, must be ignored without a reply.
					"update_id": 8,
					"message":   map[string]any{"chat": map[string]any{"id": 99}, "text": "/balance"},
				},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": updates})
	})
	mux.HandleFunc("/bottest-token/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sent = append(sent, r.URL.Query().Get("chat_id")+": "+r.URL.Query().Get("text"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	commander := &fakeCommander{}
	l := newListener(commander).WithBaseURL(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "42: "), "reply goes to the authorized chat")
	assert.Contains(t, sent[0], "balance text")

	calls := commander.recorded()
	require.Len(t, calls, 1, "unauthorized command never dispatched")
}
