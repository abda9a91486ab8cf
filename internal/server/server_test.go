package server

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/announce"
	"github.com/neynartodes/backend/internal/bonus"
	"github.com/neynartodes/backend/internal/chain"
	"github.com/neynartodes/backend/internal/contest"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/neynartodes/backend/internal/finalize"
	"github.com/neynartodes/backend/internal/holder"
	"github.com/neynartodes/backend/internal/kvstore"
	"github.com/neynartodes/backend/internal/observability"
	"github.com/neynartodes/backend/internal/pricing"
	"github.com/neynartodes/backend/internal/volume"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "sweep-secret"

func newTestServer(t *testing.T) (*Server, *chain.Stub, *kvstore.MemoryStore, *farcaster.StubClient) {
	t.Helper()
	stub := chain.NewStub()
	kv := kvstore.NewMemoryStore()
	social := farcaster.NewStubClient()

	platformToken := common.HexToAddress(chain.DefaultConfig().PlatformToken)
	holders := holder.NewEngine(holder.Config{Token: platformToken, Threshold: big.NewInt(100)}, stub)
	prices := pricing.NewEngine(pricing.DefaultConfig(), stub, nil)
	volumes := volume.NewEngine(volume.DefaultConfig(platformToken), stub, prices)
	bonuses := bonus.NewAggregator(social, kv, holders)
	orch := finalize.NewOrchestrator(finalize.Config{VRFPollInterval: time.Millisecond, VRFPollAttempts: 1},
		stub, kv, social, holders, volumes, bonuses, nil)
	announcer := announce.NewPipeline(announce.Config{SignerUUID: "signer-1"}, stub, kv, social, announce.NewStubNFTMetadata())

	health := observability.NewHealthMonitor()
	health.Register("kv", func(_ context.Context) observability.ComponentHealth {
		return observability.Healthy("in-memory")
	})

	registry := prometheus.NewRegistry()
	srv := New(Deps{
		Orchestrator: orch,
		Announcer:    announcer,
		Bonuses:      bonuses,
		Chain:        stub,
		Health:       health,
		Metrics:      observability.NewMetrics(registry),
		Registry:     registry,
		BearerToken:  testToken,
	})
	return srv, stub, kv, social
}

func do(t *testing.T, srv *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/finalize/sweep", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/finalize/sweep", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/finalize/sweep", testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFinalizeDirect(t *testing.T) {
	srv, stub, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/finalize/bogus", testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := contest.ID{Track: contest.TrackMain, N: 1}
	stub.AddContest(&contest.Descriptor{ID: id, Status: contest.StatusActive, EndTime: time.Now().Unix() - 60})

	rec = do(t, srv, http.MethodPost, "/api/finalize/M-1", testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled"`) // empty roster
	require.Len(t, stub.Cancelled, 1)
}

func TestAnnounceDirect(t *testing.T) {
	srv, stub, _, social := newTestServer(t)

	id := contest.ID{Track: contest.TrackMain, N: 2}
	winner := common.HexToAddress("0x1111000000000000000000000000000000000001")
	stub.AddContest(&contest.Descriptor{
		ID:          id,
		Status:      contest.StatusCompleted,
		CastID:      "0xcast",
		PrizeKind:   contest.PrizeETH,
		PrizeAmount: big.NewInt(1e18),
		Winners:     []common.Address{winner},
	})
	social.AddUser(farcaster.User{FID: 1, Username: "alice", VerifiedAddresses: []string{winner.Hex()}})

	rec := do(t, srv, http.MethodPost, "/api/announce/M-2", testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"posted":true`)
	require.Len(t, social.Published, 1)
}

func TestParticipantsEndpoint(t *testing.T) {
	srv, stub, kv, social := newTestServer(t)
	ctx := context.Background()

	id := contest.ID{Track: contest.TrackMain, N: 3}
	stub.AddContest(&contest.Descriptor{ID: id, Status: contest.StatusActive, CastID: "0xcast"})
	social.AddUser(farcaster.User{FID: 1, Username: "alice",
		VerifiedAddresses: []string{"0x1111000000000000000000000000000000000001"}})
	require.NoError(t, kv.SetAdd(ctx, kvstore.EntriesKey(id.String()), "1"))

	rec := do(t, srv, http.MethodGet, "/api/contests/M-3/participants", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alice"`)

	rec = do(t, srv, http.MethodGet, "/api/contests/M-99/participants", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
