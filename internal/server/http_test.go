package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LendLedger/internal/engine"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/token"
)

type stubHistory struct {
	events  []query.EventEntry
	account *query.AccountRecord
}

func (s *stubHistory) GetEvents(_ context.Context, _ *uuid.UUID, _ *string, _ int, _ *int64) ([]query.EventEntry, error) {
	return s.events, nil
}

func (s *stubHistory) GetAccount(_ context.Context, _ uuid.UUID) (*query.AccountRecord, error) {
	return s.account, nil
}

func (s *stubHistory) VerifyIntegrity(_ context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type testEnv struct {
	router     *gin.Engine
	engine     *engine.Engine
	collateral *token.MemoryLedger
	debt       *token.MemoryLedger
	feed       *oracle.Feed
	deployer   uuid.UUID
	history    *stubHistory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	deployer := uuid.New()
	engineID := uuid.New()
	collateral := token.NewMemoryLedger("COLL", deployer)
	debt := token.NewMemoryLedger("DEBT", deployer)
	require.NoError(t, debt.TransferOwnership(deployer, engineID))

	feed := oracle.NewStatic(uint256.NewInt(100_000_000), oracle.DefaultScale())

	eng, err := engine.New(engine.Config{
		ID:         engineID,
		Params:     ledger.DefaultParams(),
		Collateral: collateral,
		Debt:       debt,
		Oracle:     feed,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	history := &stubHistory{}
	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := New(eng, history, health, nil, zerolog.Nop())
	return &testEnv{
		router:     srv.Router(),
		engine:     eng,
		collateral: collateral,
		debt:       debt,
		feed:       feed,
		deployer:   deployer,
		history:    history,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) fundAndDeposit(t *testing.T, user uuid.UUID, amount uint64) {
	t.Helper()
	require.NoError(t, e.collateral.Mint(e.deployer, user, uint256.NewInt(amount)))
	e.collateral.Approve(user, e.engine.ID(), uint256.NewInt(amount))
	rec := e.request(t, http.MethodPost, "/v1/collateral/deposits", gin.H{
		"account_id": user.String(),
		"amount":     uint256.NewInt(amount).Dec(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestDepositEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.fundAndDeposit(t, user, 1500)

	var resp map[string]interface{}
	rec := env.request(t, http.MethodGet, "/v1/accounts/"+user.String()+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1500", resp["collateral_balance"])
	assert.Equal(t, "0", resp["debt_balance"])
	assert.Equal(t, "1000", resp["borrowable"])
	assert.Equal(t, false, resp["is_liquidatable"])
}

func TestDepositValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body gin.H
		code int
	}{
		{"missing fields", gin.H{}, http.StatusBadRequest},
		{"bad uuid", gin.H{"account_id": "nope", "amount": "10"}, http.StatusBadRequest},
		{"bad amount", gin.H{"account_id": uuid.New().String(), "amount": "ten"}, http.StatusBadRequest},
		{"zero amount", gin.H{"account_id": uuid.New().String(), "amount": "0"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.request(t, http.MethodPost, "/v1/collateral/deposits", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestDepositZeroAmountMessage(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/v1/collateral/deposits", gin.H{
		"account_id": uuid.New().String(),
		"amount":     "0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Amount must be more than 0", resp["error"])
}

func TestBorrowEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.fundAndDeposit(t, user, 1500)

	rec := env.request(t, http.MethodPost, "/v1/loans", gin.H{
		"account_id": user.String(),
		"amount":     "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1000), env.debt.BalanceOf(user).Uint64())

	rec = env.request(t, http.MethodPost, "/v1/loans", gin.H{
		"account_id": user.String(),
		"amount":     "1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Less than required", resp["error"])
}

func TestLiquidateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	target := uuid.New()
	env.fundAndDeposit(t, target, 1500)
	rec := env.request(t, http.MethodPost, "/v1/loans", gin.H{
		"account_id": target.String(),
		"amount":     "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	liquidator := uuid.New()

	// Healthy target: conflict.
	rec = env.request(t, http.MethodPost, "/v1/liquidations", gin.H{
		"liquidator_id": liquidator.String(),
		"account_id":    target.String(),
		"repay_amount":  "100",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Account is not liquidatable", resp["error"])

	// Price halves; fund the liquidator with debt tokens and retry.
	env.feed.Update(oracle.Price{Value: uint256.NewInt(50_000_000), Scale: oracle.DefaultScale(), Sequence: 99})
	require.NoError(t, env.debt.Mint(env.engine.ID(), liquidator, uint256.NewInt(100)))
	env.debt.Approve(liquidator, env.engine.ID(), uint256.NewInt(100))

	rec = env.request(t, http.MethodPost, "/v1/liquidations", gin.H{
		"liquidator_id": liquidator.String(),
		"account_id":    target.String(),
		"repay_amount":  "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(105), env.collateral.BalanceOf(liquidator).Uint64())
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()

	rec := env.request(t, http.MethodGet, "/v1/accounts/"+user.String()+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// No debt: max-uint256 sentinel.
	assert.Equal(t,
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
		resp["health"])
}

func TestBorrowableEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.fundAndDeposit(t, user, 300)

	rec := env.request(t, http.MethodGet, "/v1/accounts/"+user.String()+"/borrowable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "200", resp["borrowable"])
}

func TestOracleDownReturns503(t *testing.T) {
	env := newTestEnv(t)
	env.feed.Update(oracle.Price{Value: uint256.NewInt(0), Scale: oracle.DefaultScale(), Sequence: 99})

	rec := env.request(t, http.MethodGet, "/v1/accounts/"+uuid.New().String()+"/summary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.history.events = []query.EventEntry{
		{Sequence: 2, EventType: "Borrowed", Payload: json.RawMessage(`{"amount":"1000"}`)},
		{Sequence: 1, EventType: "CollateralDeposited", Payload: json.RawMessage(`{"amount":"1500"}`)},
	}

	rec := env.request(t, http.MethodGet, "/v1/accounts/"+uuid.New().String()+"/events?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []query.EventEntry `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, int64(2), resp.Events[0].Sequence)

	rec = env.request(t, http.MethodGet, "/v1/accounts/"+uuid.New().String()+"/events?after=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadinessProbe(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
