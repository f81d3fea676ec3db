// This is a http type of reporter.
// It fetches data from the sweep journal
// and publishes on the http routes.

package reporter

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TEENet-io/spv-bridge/btcman/utxo"
	"github.com/TEENet-io/spv-bridge/chaintxmgrdb"
	"github.com/TEENet-io/spv-bridge/common"
)

const (
	ROUTE_HELLO   = "/hello"
	ROUTE_SWEEPS  = "/sweeps"
	ROUTE_SWEEP   = "/sweeps/:txid"
	ROUTE_METRICS = "/metrics"

	defaultListLimit = 50
	maxListLimit     = 1000
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	journal chaintxmgrdb.ChainTxMgrDB // this is an interface
}

func NewHttpReporter(serverIP string, serverPort string, journal chaintxmgrdb.ChainTxMgrDB) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		journal:    journal,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Define routes & handlers
	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_SWEEPS, h.Sweeps)
	router.GET(ROUTE_SWEEP, h.Sweep)
	router.GET(ROUTE_METRICS, gin.WrapH(promhttp.Handler()))

	return router
}

// Hook up router & ip:port, blocks until the server fails.
func (h *HttpReporter) Run() error {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	return router.Run(address)
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// sweepView is the json shape of a journal entry.
type sweepView struct {
	TxID         string `json:"txid"`
	Kind         string `json:"kind"`
	WalletPubKey string `json:"wallet_pub_key"`
	MainTxID     string `json:"main_txid"`
	MainVout     uint32 `json:"main_vout"`
	MainValue    uint64 `json:"main_value"`
	Vault        string `json:"vault,omitempty"`
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
	Attempts     int    `json:"attempts"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func toView(e *chaintxmgrdb.SweepEntry) sweepView {
	return sweepView{
		TxID:         e.TxHash.String(),
		Kind:         string(e.Kind),
		WalletPubKey: common.ByteSliceToPureHexStr(e.WalletPubKey),
		MainTxID:     e.MainUtxo.TxHash.String(),
		MainVout:     e.MainUtxo.Vout,
		MainValue:    e.MainUtxo.Value,
		Vault:        common.ByteSliceToPureHexStr(e.Vault),
		Status:       string(e.Status),
		LastError:    e.LastError,
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt.Unix(),
		UpdatedAt:    e.UpdatedAt.Unix(),
	}
}

// Sweeps lists journal entries, newest first,
// or only those in ?status= (oldest first).
func (h *HttpReporter) Sweeps(c *gin.Context) {
	var (
		entries []*chaintxmgrdb.SweepEntry
		err     error
	)

	if status := c.Query("status"); status != "" {
		switch st := chaintxmgrdb.SweepStatus(status); st {
		case chaintxmgrdb.Built, chaintxmgrdb.Broadcast, chaintxmgrdb.Proven, chaintxmgrdb.Failed:
			entries, err = h.journal.GetSweepsByStatus(st)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + status})
			return
		}
	} else {
		limit := defaultListLimit
		if l := c.Query("limit"); l != "" {
			n, perr := strconv.Atoi(l)
			if perr != nil || n <= 0 || n > maxListLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1.." + strconv.Itoa(maxListLimit)})
				return
			}
			limit = n
		}
		entries, err = h.journal.ListSweeps(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]sweepView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toView(e))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// Sweep shows one journal entry by its bitcoin txid.
func (h *HttpReporter) Sweep(c *gin.Context) {
	txHash, err := utxo.TxHashFromString(common.Trim0xPrefix(c.Param("txid")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, found, err := h.journal.GetSweep(txHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "No sweep found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(e)})
}
