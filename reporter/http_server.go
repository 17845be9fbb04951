// This is a http type of reporter.
// It fetches data from the vault stores
// and publishes on the http routes.

package reporter

import (
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/sharebridge/vault-go/agreement"
	"github.com/sharebridge/vault-go/escrow"
	"github.com/sharebridge/vault-go/hookpipe"
	"github.com/sharebridge/vault-go/oracle"
	"github.com/sharebridge/vault-go/withdrawauth"
)

const (
	ROUTE_HELLO         = "/hello"
	ROUTE_HOOKS         = "/hooks"
	ROUTE_DEPOSIT       = "/deposit"
	ROUTE_ESCROW_LEDGER = "/escrow/ledger"
	ROUTE_ORACLE        = "/oracle"
	ROUTE_NONCE         = "/nonce"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	pipeline *hookpipe.Pipeline
	escrow   *escrow.GatedDepositVault
	oracle   *oracle.Oracle
	executor *withdrawauth.Executor
}

func NewHttpReporter(serverIP string, serverPort string, pipeline *hookpipe.Pipeline, esc *escrow.GatedDepositVault, orc *oracle.Oracle, x *withdrawauth.Executor) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		pipeline:   pipeline,
		escrow:     esc,
		oracle:     orc,
		executor:   x,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Define routes & handlers
	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_HOOKS, h.Hooks)
	router.GET(ROUTE_DEPOSIT, h.Deposit)
	router.GET(ROUTE_ESCROW_LEDGER, h.EscrowLedger)
	router.GET(ROUTE_ORACLE, h.Oracle)
	router.GET(ROUTE_NONCE, h.Nonce)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func parseTag(raw string) (agreement.OperationTag, bool) {
	switch raw {
	case string(agreement.TagDeposit):
		return agreement.TagDeposit, true
	case string(agreement.TagWithdraw):
		return agreement.TagWithdraw, true
	case string(agreement.TagTransfer):
		return agreement.TagTransfer, true
	}
	return "", false
}

// Publish the ordered hook list of one pipeline tag.
func (h *HttpReporter) Hooks(c *gin.Context) {
	tag, ok := parseTag(c.Query("tag"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag must be one of deposit, withdraw, transfer"})
		return
	}

	entries := h.pipeline.ListHooks(tag)
	hooks := make([]gin.H, len(entries))
	for i, entry := range entries {
		hooks[i] = gin.H{
			"address":           entry.Hook.Address().Hex(),
			"registered_at_seq": entry.RegisteredAtSeq,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tag":       string(tag),
		"hooks":     hooks,
		"watermark": h.pipeline.Watermark(tag),
	})
}

// Fetch deposit lifecycle records by id or by depositor.
func (h *HttpReporter) Deposit(c *gin.Context) {
	id := c.Query("id")
	depositor := c.Query("depositor")

	// Check if both parameters are missing
	if id == "" && depositor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either id or depositor must be provided"})
		return
	}

	if id != "" {
		d, ok, err := h.escrow.DB().GetDeposit(ethcommon.HexToHash(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "No deposit found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": d.JSONView()})
		return
	}

	deposits, err := h.escrow.DB().GetDepositsByDepositor(ethcommon.HexToAddress(depositor))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(deposits) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No deposit found"})
		return
	}
	views := make([]*escrow.JSONDeposit, len(deposits))
	for i, d := range deposits {
		views[i] = d.JSONView()
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// Publish the pending escrow aggregates.
func (h *HttpReporter) EscrowLedger(c *gin.Context) {
	total, err := h.escrow.DB().TotalPendingAssets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byUser, err := h.escrow.DB().PendingByDepositor()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	round, err := h.escrow.Round()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	users := make(map[string]string, len(byUser))
	for addr, amount := range byUser {
		users[addr.Hex()] = amount.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"total_pending_assets": total.String(),
		"pending_by_depositor": users,
		"round":                round,
	})
}

// Publish the oracle snapshot plus the live interpolated price.
func (h *HttpReporter) Oracle(c *gin.Context) {
	snap := h.oracle.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"target_price":           snap.TargetPrice.String(),
		"transition_start_price": snap.TransitionStartPrice.String(),
		"last_update_at":         snap.LastUpdateAt,
		"max_deviation_bps":      snap.MaxDeviationBps,
		"period_seconds":         snap.PeriodSeconds,
		"applied_change_bps":     snap.AppliedChangeBpsInPeriod,
		"round":                  snap.Round,
		"current_price":          h.oracle.CurrentPrice().String(),
		"transition_progress":    h.oracle.TransitionProgress(),
	})
}

// Publish whether a withdrawal nonce has been consumed.
func (h *HttpReporter) Nonce(c *gin.Context) {
	owner := c.Query("owner")
	rawNonce := c.Query("nonce")
	if owner == "" || rawNonce == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both owner and nonce must be provided"})
		return
	}
	nonce, err := strconv.ParseUint(rawNonce, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nonce must be an unsigned integer"})
		return
	}

	used, err := h.executor.IsNonceUsed(ethcommon.HexToAddress(owner), nonce)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner": ethcommon.HexToAddress(owner).Hex(),
		"nonce": nonce,
		"used":  used,
	})
}
