package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/blocks"
	"github.com/airchains-network/stateless-verifier/client"
	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/host"
	"github.com/airchains-network/stateless-verifier/server"
	"github.com/airchains-network/stateless-verifier/testutil"
	"github.com/airchains-network/stateless-verifier/types"
)

type fixture struct {
	chain  *testutil.Chain
	store  *blocks.Store
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	w := testutil.NewWorld()
	w.Fund(testutil.Address(0), testutil.Ether(10))
	chain := testutil.NewChain(w)
	for i := 0; i < 2; i++ {
		_, err := chain.AddBlock([]*ethtypes.Transaction{
			chain.Transfer(0, uint64(i), testutil.Address(1), testutil.Ether(1)),
		}, nil)
		require.NoError(t, err)
	}
	store, err := blocks.NewStore(t.TempDir())
	require.NoError(t, err)
	collector := host.NewCollector(chain, executor.NewEngine(chain.Config), 2, log)
	srv := server.New(collector, store, client.NewVerifier(chain.Config, nil), log)
	return &fixture{chain: chain, store: store, router: srv.Handler()}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCollectThenVerify(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/blocks/2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/blocks/2/verify")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/blocks/2/collect")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["collected"])
	rec = f.do(http.MethodPost, "/blocks/2/collect")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["collected"])

	rec = f.do(http.MethodGet, "/blocks/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	in, err := types.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, f.chain.Head().Hash(), in.CurrentBlock.Hash())

	rec = f.do(http.MethodPost, "/blocks/2/verify")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["number"])
	assert.Equal(t, f.chain.Head().Hash().Hex(), body["hash"])
	assert.Equal(t, f.chain.Head().Root().Hex(), body["state_root"])
}

func TestVerifyReportsKind(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/blocks/1/collect").Code)

	in, err := f.store.Load(1)
	require.NoError(t, err)
	in.ParentState.StateRoot = common.Hash{1}
	require.NoError(t, os.Remove(f.store.Path(1)))
	require.NoError(t, f.store.Save(in))

	rec := f.do(http.MethodPost, "/blocks/1/verify")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, client.ErrInvalidWitness.Error(), body["kind"])
	assert.NotEmpty(t, body["error"])
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/blocks/latest").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/blocks/-1/verify").Code)

	rec := f.do(http.MethodPost, "/blocks/9/collect")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, f.store.Has(9))
}
