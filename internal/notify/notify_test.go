package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunityExecuted, "skipped", ""))
	require.NoError(t, n.Notify(context.Background(), EventPositionClosed, "delivered", ""))

	assert.Equal(t, []string{"delivered"}, sender.titles)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	failing := &recordingSender{name: "telegram", err: errors.New("boom")}
	working := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{failing, working}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, working.titles, 1)
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "position closed", "p1"))
	assert.Contains(t, gotBody, `**position closed**`)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusNotFound)
	}))
	defer bad.Close()

	err := NewDiscordSender(bad.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	require.NoError(t, n.Notify(context.Background(), EventError, "t", "m"))
	n.PositionClosed(context.Background(), domain.Position{}, domain.PositionStatusClosed)
	n.OpportunityExecuted(context.Background(), "u1", domain.Opportunity{}, "executed")
	n.SystemError(context.Background(), "engine", errors.New("boom"))
}
