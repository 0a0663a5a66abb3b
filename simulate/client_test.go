package simulate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DryRunOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dry_run", r.URL.Path)
		var req dryRunRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.NotEmpty(t, req.TransactionBytesB64)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"gas": {"computation": "1000", "storage": "0", "rebate": "0"},
			"balance_changes": [{"owner": "0xuser", "coin_type": "USDC", "amount": "101000"}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL, 2*time.Second)
	dryRun, err := client.DryRun(context.Background(), []byte("tx-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(dryRun.Status))
	assert.Equal(t, "1000", dryRun.Gas.Computation.String())
	require.Len(t, dryRun.BalanceChanges, 1)
	assert.Equal(t, "101000", dryRun.BalanceChanges[0].Amount.String())
}

func TestClient_DryRunServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, 2*time.Second)
	_, err := client.DryRun(context.Background(), []byte("tx"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSimulatorTransient)
}
