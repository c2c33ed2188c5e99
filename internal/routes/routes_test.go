package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokentrust/internal/handlers"
	"tokentrust/internal/ledger"
	"tokentrust/internal/middleware"
	"tokentrust/internal/models"
	"tokentrust/pkg/config"
	"tokentrust/pkg/utils"
)

type recordingPublisher struct {
	queue string
	body  interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, msg interface{}) error {
	p.queue = queue
	p.body = msg
	return nil
}

type apiFixture struct {
	router      *gin.Engine
	ledger      *ledger.Ledger
	handler     *handlers.Handler
	recommender *models.Recommender
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := config.OpenDatabase(config.DatabaseSettings{Driver: "sqlite", Path: config.SQLiteMemoryDSN(t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { config.CloseDatabase(db) })
	require.NoError(t, ledger.AutoMigrate(db))

	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New(db, utils.NewFakeClock(now))
	ctx := context.Background()

	rec, err := l.GetOrCreateRecommender(ctx, ledger.Identity{TelegramID: "caller"})
	require.NoError(t, err)
	require.NoError(t, l.UpsertTokenPerformance(ctx, &models.TokenPerformance{TokenAddress: "TokenA", Symbol: "TKA"}))
	require.NoError(t, l.AddTradePerformance(ctx, &models.Trade{
		TokenAddress:  "TokenA",
		RecommenderID: rec.ID,
		BuyTimestamp:  now.Add(-10 * time.Minute),
		BuyPrice:      0.01,
		BuyAmount:     100,
		BuySol:        0.1,
		BuyValueUsd:   1,
	}, false))

	h := &handlers.Handler{Ledger: l}
	return &apiFixture{
		router:      SetupRouter(h, Options{}),
		ledger:      l,
		handler:     h,
		recommender: rec,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestRecommenderRoutes(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)

	w := f.do(t, http.MethodGet, "/recommenders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []models.Recommender
	decode(t, w, &recs)
	require.Len(t, recs, 1)

	w = f.do(t, http.MethodGet, "/recommenders/caller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var byAlias models.Recommender
	decode(t, w, &byAlias)
	assert.Equal(t, f.recommender.ID, byAlias.ID)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/recommenders/"+f.recommender.ID.String()+"/metrics", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/recommenders/nope/metrics", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/recommenders/"+uuid.NewString(), nil).Code)

	w = f.do(t, http.MethodGet, "/recommenders/"+f.recommender.ID.String()+"/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []models.Trade
	decode(t, w, &trades)
	assert.Len(t, trades, 1)
}

func TestTokenRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/tokens/TokenA", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perf models.TokenPerformance
	decode(t, w, &perf)
	assert.Equal(t, "TKA", perf.Symbol)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tokens/missing", nil).Code)

	for _, path := range []string{"/tokens/TokenA/trades/open", "/trades/open", "/tokens/TokenA/trades/recent?window=30m"} {
		w = f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		var trades []models.Trade
		decode(t, w, &trades)
		assert.Len(t, trades, 1, path)
	}
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/tokens/TokenA/trades/recent?window=soon", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/tokens?limit=-1", nil).Code)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/tokens/TokenA/evaluate", nil).Code)
}

func TestAirdropRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/airdrops", gin.H{
		"program_name":   "season-1",
		"wallet_address": "Wallet111",
		"reward_amount":  "250.75",
		"metadata":       gin.H{"tier": "gold"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Airdrop
	decode(t, w, &created)
	assert.Equal(t, models.AirdropActive, created.Status)
	path := "/airdrops/" + created.ID.String()

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/airdrops", gin.H{"program_name": "x"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, path+"/status", gin.H{"status": "COMPLETED"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPut, path+"/status", gin.H{"status": "PENDING"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, path+"/status", gin.H{"status": "LOST"}).Code)

	w = f.do(t, http.MethodGet, "/airdrops?status=PENDING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.Airdrop
	decode(t, w, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "250.75", pending[0].RewardAmount.String())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, nil).Code)
}

func TestSubmitRecommendation(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/recommendations", gin.H{"token": "TokenA"}).Code)

	pub := &recordingPublisher{}
	f.handler.Publisher = pub
	f.handler.RecommendationQueue = "token_recommendations"

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/recommendations", gin.H{"token": "TokenA"}).Code)

	w := f.do(t, http.MethodPost, "/recommendations", gin.H{
		"token":    "TokenA",
		"identity": gin.H{"telegram_id": "caller"},
		"amount":   0.25,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "token_recommendations", pub.queue)
	assert.NotNil(t, pub.body)
}

func TestRPCHealthRoute(t *testing.T) {
	f := newAPIFixture(t)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":1}`))
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	f.handler.RPCEndpoints = []string{down.URL, healthy.URL}
	w := f.do(t, http.MethodGet, "/rpc/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Healthy int `json:"healthy"`
	}
	decode(t, w, &body)
	assert.Equal(t, 1, body.Healthy)
}

func TestRateLimitedRouter(t *testing.T) {
	f := newAPIFixture(t)
	router := SetupRouter(f.handler, Options{
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{RequestsPerSecond: 0.01, Burst: 1}),
	})

	call := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}
	assert.Equal(t, http.StatusOK, call("/tokens").Code)
	limited := call("/tokens")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, call("/health").Code)
}
