package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/autotrade"
	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// --- fakes ---

type fakeSource struct {
	opps []domain.Opportunity
}

func (f *fakeSource) Latest() []domain.Opportunity { return f.opps }

type fakeExec struct {
	result executor.Result
	err    error
	gotUID string
	gotOpp domain.Opportunity
	dryRun bool
}

func (f *fakeExec) Execute(_ context.Context, uid string, opp domain.Opportunity, dryRun bool) (executor.Result, error) {
	f.gotUID = uid
	f.gotOpp = opp
	f.dryRun = dryRun
	return f.result, f.err
}

type fakeRiskStore struct {
	limits map[string]domain.RiskLimit
	err    error
}

func (f *fakeRiskStore) Get(_ context.Context, userID string) (domain.RiskLimit, error) {
	if f.err != nil {
		return domain.RiskLimit{}, f.err
	}
	l, ok := f.limits[userID]
	if !ok {
		return domain.RiskLimit{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeRiskStore) Upsert(_ context.Context, limit domain.RiskLimit) error {
	if f.err != nil {
		return f.err
	}
	if f.limits == nil {
		f.limits = make(map[string]domain.RiskLimit)
	}
	f.limits[limit.UserID] = limit
	return nil
}

type fakeCloser struct {
	err    error
	gotID  string
	gotUID string
}

func (f *fakeCloser) ManualClose(_ context.Context, positionID, userID string) error {
	f.gotID = positionID
	f.gotUID = userID
	return f.err
}

type fakePositionStore struct {
	positions map[string]domain.Position
}

func (f *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	f.positions[pos.ID] = pos
	return nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	pos, ok := f.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositionStore) ListOpen(context.Context) ([]domain.Position, error)    { return nil, nil }
func (f *fakePositionStore) ListClosing(context.Context) ([]domain.Position, error) { return nil, nil }

func (f *fakePositionStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, pos := range f.positions {
		if pos.UserID == userID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (f *fakePositionStore) UpdateLivePnL(context.Context, string, float64, float64) error {
	return nil
}
func (f *fakePositionStore) MarkClosing(context.Context, string, domain.CloseReason) error {
	return nil
}
func (f *fakePositionStore) Finalize(context.Context, string, domain.PositionStatus, []domain.Leg, domain.CloseReason, float64, time.Time) error {
	return nil
}

type fakeCredStore struct {
	creds map[string]domain.VenueCredential // keyed user|venue
}

func credKey(userID, venue string) string { return userID + "|" + venue }

func (f *fakeCredStore) Get(_ context.Context, userID, venue string) (domain.VenueCredential, error) {
	c, ok := f.creds[credKey(userID, venue)]
	if !ok {
		return domain.VenueCredential{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCredStore) Upsert(_ context.Context, cred domain.VenueCredential) error {
	if f.creds == nil {
		f.creds = make(map[string]domain.VenueCredential)
	}
	f.creds[credKey(cred.UserID, cred.Venue)] = cred
	return nil
}

func (f *fakeCredStore) Delete(_ context.Context, userID, venue string) error {
	k := credKey(userID, venue)
	if _, ok := f.creds[k]; !ok {
		return domain.ErrNotFound
	}
	delete(f.creds, k)
	return nil
}

type fakeManager struct {
	startErr error
	stopErr  error
	active   []autotrade.TraderStatus
	started  string
	stopped  string
}

func (f *fakeManager) Start(_ context.Context, userID string, strategy autotrade.Strategy, dryRun bool) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = userID
	return nil
}

func (f *fakeManager) Stop(userID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = userID
	return nil
}

func (f *fakeManager) Active() []autotrade.TraderStatus { return f.active }

// --- helper tests ---

func TestUserIDDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	assert.Equal(t, "default", userID(r))

	r.Header.Set("X-User-ID", "alice")
	assert.Equal(t, "alice", userID(r))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/orders?limit=9000&offset=10&since=2026-01-02T00:00:00Z", nil)
	opts := parseListOpts(r)

	assert.Equal(t, 500, opts.Limit, "limit is capped")
	assert.Equal(t, 10, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2026, opts.Since.Year())
	assert.Nil(t, opts.Until)
}

func TestParseListOptsDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	opts := parseListOpts(r)

	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Nil(t, opts.Since)
}

// --- opportunity handler ---

func TestListOpportunities(t *testing.T) {
	source := &fakeSource{opps: []domain.Opportunity{
		{ID: "opp-1", Type: domain.OpportunityKimchiPremium, Symbol: "BTC/USDT"},
	}}
	h := NewOpportunityHandler(source, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listOpportunitiesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "opp-1", resp.Opportunities[0].ID)
}

func TestListOpportunitiesEmptySnapshot(t *testing.T) {
	h := NewOpportunityHandler(&fakeSource{}, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"opportunities":[]`)
}

// --- execute handler ---

func TestExecuteStaleOpportunity(t *testing.T) {
	h := NewExecuteHandler(&fakeExec{}, &fakeSource{}, testLogger())

	body := strings.NewReader(`{"opportunity_id":"gone"}`)
	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/api/execute", body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteSuccess(t *testing.T) {
	source := &fakeSource{opps: []domain.Opportunity{{ID: "opp-1", Notional: 500}}}
	exec := &fakeExec{result: executor.Result{Status: "success", OpportunityID: "opp-1"}}
	h := NewExecuteHandler(exec, source, testLogger())

	body := strings.NewReader(`{"opportunity_id":"opp-1","dry_run":true}`)
	r := httptest.NewRequest(http.MethodPost, "/api/execute", body)
	r.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.Execute(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", exec.gotUID)
	assert.Equal(t, "opp-1", exec.gotOpp.ID)
	assert.True(t, exec.dryRun)
}

func TestExecuteRiskRefusal(t *testing.T) {
	source := &fakeSource{opps: []domain.Opportunity{{ID: "opp-1"}}}
	exec := &fakeExec{
		result: executor.Result{Status: "risk_check_failed", OpportunityID: "opp-1"},
		err:    domain.RiskCheckFailed("daily loss limit reached"),
	}
	h := NewExecuteHandler(exec, source, testLogger())

	body := strings.NewReader(`{"opportunity_id":"opp-1"}`)
	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/api/execute", body))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "risk_check_failed")
}

func TestExecuteMissingID(t *testing.T) {
	h := NewExecuteHandler(&fakeExec{}, &fakeSource{}, testLogger())

	rec := httptest.NewRecorder()
	h.Execute(rec, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- risk handler ---

func TestGetLimitsFallsBackToDefaults(t *testing.T) {
	h := NewRiskHandler(&fakeRiskStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.GetLimits(rec, httptest.NewRequest(http.MethodGet, "/api/risk-limits", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var limit domain.RiskLimit
	decodeBody(t, rec, &limit)
	assert.Equal(t, domain.DefaultRiskLimit("default").MaxPositionUSD, limit.MaxPositionUSD)
}

func TestUpdateLimits(t *testing.T) {
	store := &fakeRiskStore{}
	h := NewRiskHandler(store, testLogger())

	body := strings.NewReader(`{
		"max_position_usd": 5000,
		"max_leverage": 2,
		"max_daily_loss_usd": 250,
		"max_open_orders": 4,
		"stop_loss_pct": 3,
		"take_profit_pct": 6
	}`)
	r := httptest.NewRequest(http.MethodPut, "/api/risk-limits", body)
	r.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.UpdateLimits(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	saved := store.limits["alice"]
	assert.Equal(t, 5000.0, saved.MaxPositionUSD)
	assert.Equal(t, 4, saved.MaxOpenOrders)
	assert.False(t, saved.UpdatedAt.IsZero())
}

func TestUpdateLimitsRejectsNonPositive(t *testing.T) {
	h := NewRiskHandler(&fakeRiskStore{}, testLogger())

	body := strings.NewReader(`{"max_position_usd": 0}`)
	rec := httptest.NewRecorder()
	h.UpdateLimits(rec, httptest.NewRequest(http.MethodPut, "/api/risk-limits", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "max_position_usd")
}

// --- position handler ---

func newPositionRequest(method, target, uid string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	if uid != "" {
		r.Header.Set("X-User-ID", uid)
	}
	return r
}

func TestClosePositionWrongUser(t *testing.T) {
	closer := &fakeCloser{err: domain.ErrUnauthorized}
	store := &fakePositionStore{positions: map[string]domain.Position{
		"pos-1": {ID: "pos-1", UserID: "bob"},
	}}
	h := NewPositionHandler(store, closer, testLogger())

	r := newPositionRequest(http.MethodPost, "/api/positions/pos-1/close", "alice")
	r.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.ClosePosition(rec, r)

	// The wrong user must not learn the position exists.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "alice", closer.gotUID)
}

func TestClosePositionSuccess(t *testing.T) {
	closer := &fakeCloser{}
	store := &fakePositionStore{positions: map[string]domain.Position{
		"pos-1": {ID: "pos-1", UserID: "alice", Status: domain.PositionStatusClosed},
	}}
	h := NewPositionHandler(store, closer, testLogger())

	r := newPositionRequest(http.MethodPost, "/api/positions/pos-1/close", "alice")
	r.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.ClosePosition(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pos-1", closer.gotID)
	var pos domain.Position
	decodeBody(t, rec, &pos)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

func TestGetPositionHidesOtherUsers(t *testing.T) {
	store := &fakePositionStore{positions: map[string]domain.Position{
		"pos-1": {ID: "pos-1", UserID: "bob"},
	}}
	h := NewPositionHandler(store, &fakeCloser{}, testLogger())

	r := newPositionRequest(http.MethodGet, "/api/positions/pos-1", "alice")
	r.SetPathValue("id", "pos-1")
	rec := httptest.NewRecorder()
	h.GetPosition(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- credential handler ---

func TestUpsertCredentialRedactsResponse(t *testing.T) {
	store := &fakeCredStore{}
	h := NewCredentialHandler(store, testLogger())

	body := strings.NewReader(`{"venue":"Binance","api_key":"AKIAEXAMPLEKEY1234","api_secret":"supersecretvalue42"}`)
	r := httptest.NewRequest(http.MethodPut, "/api/credentials", body)
	r.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.UpsertCredential(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "supersecretvalue42")
	assert.Contains(t, rec.Body.String(), `"venue":"binance"`)

	// The store got the plaintext; encryption is the store's concern.
	saved := store.creds[credKey("alice", "binance")]
	assert.Equal(t, "supersecretvalue42", saved.APISecret)
}

func TestDeleteCredentialNotFound(t *testing.T) {
	h := NewCredentialHandler(&fakeCredStore{}, testLogger())

	r := httptest.NewRequest(http.MethodDelete, "/api/credentials/upbit", nil)
	r.SetPathValue("venue", "upbit")
	rec := httptest.NewRecorder()
	h.DeleteCredential(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- autotrade handler ---

func TestStartTrader(t *testing.T) {
	mgr := &fakeManager{}
	h := NewAutoTradeHandler(mgr, context.Background(), testLogger())

	body := strings.NewReader(`{"strategy":"conservative","dry_run":true}`)
	r := httptest.NewRequest(http.MethodPost, "/api/autotrade", body)
	r.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.StartTrader(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", mgr.started)
	assert.Contains(t, rec.Body.String(), `"strategy":"conservative"`)
}

func TestStartTraderUnknownStrategy(t *testing.T) {
	h := NewAutoTradeHandler(&fakeManager{}, context.Background(), testLogger())

	body := strings.NewReader(`{"strategy":"yolo"}`)
	rec := httptest.NewRecorder()
	h.StartTrader(rec, httptest.NewRequest(http.MethodPost, "/api/autotrade", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTraderAlreadyRunning(t *testing.T) {
	mgr := &fakeManager{startErr: domain.ErrTraderExists}
	h := NewAutoTradeHandler(mgr, context.Background(), testLogger())

	body := strings.NewReader(`{"strategy":"aggressive"}`)
	rec := httptest.NewRecorder()
	h.StartTrader(rec, httptest.NewRequest(http.MethodPost, "/api/autotrade", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopTraderNotRunning(t *testing.T) {
	mgr := &fakeManager{stopErr: domain.ErrNotFound}
	h := NewAutoTradeHandler(mgr, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.StopTrader(rec, httptest.NewRequest(http.MethodDelete, "/api/autotrade", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTraders(t *testing.T) {
	mgr := &fakeManager{active: []autotrade.TraderStatus{
		{UserID: "alice", Strategy: "conservative", DryRun: true},
	}}
	h := NewAutoTradeHandler(mgr, context.Background(), testLogger())

	rec := httptest.NewRecorder()
	h.ListTraders(rec, httptest.NewRequest(http.MethodGet, "/api/autotrade", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listTradersResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Traders, 1)
	assert.Equal(t, "alice", resp.Traders[0].UserID)
}
