package reporter

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
)

const sweepTxID = "c580e0e352570d90e303d912a506055ceeb0ee06f97dce6988c69941374f5479"

func newTestServer(t *testing.T) (*httptest.Server, *HttpReader) {
	gin.SetMode(gin.TestMode)

	journal, err := chaintxmgrdb.NewSQLiteChainTxMgrDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(journal.Close)

	txHash, err := utxo.TxHashFromString(sweepTxID)
	require.NoError(t, err)
	require.NoError(t, journal.InsertSweep(&chaintxmgrdb.SweepEntry{
		TxHash:       txHash,
		Kind:         chaintxmgrdb.KindRedemption,
		WalletPubKey: []byte{0x02, 0x01},
		MainUtxo:     utxo.UTXO{Vout: 1, Value: 100_000},
		RawTx:        "00",
		Status:       chaintxmgrdb.Broadcast,
	}))

	srv := httptest.NewServer(NewHttpReporter("127.0.0.1", "0", journal).SetupRouter())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return srv, NewHttpReader(host, port)
}

func TestHello(t *testing.T) {
	_, reader := newTestServer(t)

	body, err := reader.GetHello()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"world"}`, body)
}

func TestSweep(t *testing.T) {
	_, reader := newTestServer(t)

	body, err := reader.GetSweep(sweepTxID)
	require.NoError(t, err)

	var resp struct {
		Data sweepView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, sweepTxID, resp.Data.TxID)
	assert.Equal(t, "redemption", resp.Data.Kind)
	assert.Equal(t, "broadcast", resp.Data.Status)
	assert.Equal(t, uint64(100_000), resp.Data.MainValue)
	assert.Empty(t, resp.Data.Vault)

	_, err = reader.GetSweep("00" + sweepTxID[2:])
	assert.ErrorContains(t, err, "status 404")

	_, err = reader.GetSweep("xyz")
	assert.ErrorContains(t, err, "status 400")
}

func TestSweeps(t *testing.T) {
	srv, reader := newTestServer(t)

	body, err := reader.GetSweeps("")
	require.NoError(t, err)
	var resp struct {
		Data []sweepView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Data, 1)

	body, err = reader.GetSweeps("proven")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Empty(t, resp.Data)

	_, err = reader.GetSweeps("lost")
	assert.ErrorContains(t, err, "status 400")

	resp2, err := http.Get(srv.URL + ROUTE_SWEEPS + "?limit=0")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + ROUTE_METRICS)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
