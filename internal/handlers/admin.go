package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/phutaneomkar/Coin-sub000/internal/reconcile"
	"github.com/phutaneomkar/Coin-sub000/internal/scanner"
	"github.com/phutaneomkar/Coin-sub000/libs/auth"
)

type ScanRunner interface {
	Scan(ctx context.Context) (scanner.Report, error)
}

type ReconcileRunner interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
	Cleanup(ctx context.Context) (reconcile.CleanupReport, error)
}

// Depositor credits simulated cash to a user's balance.
type Depositor interface {
	CreditBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
}

// AdminHandler exposes the operational endpoints. Scan, reconcile, and
// cleanup run the same passes the background scheduler does, on demand;
// deposit tops up demo accounts.
type AdminHandler struct {
	Scanner   ScanRunner
	Reconcile ReconcileRunner
	Deposits  Depositor
	Logger    *slog.Logger
}

func NewAdmin(sc ScanRunner, rec ReconcileRunner, dep Depositor, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{Scanner: sc, Reconcile: rec, Deposits: dep, Logger: logger}
}

func (h *AdminHandler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/admin", auth.RequireScope(jwtSecret, auth.ScopeOps))
	group.POST("/scan", h.RunScan)
	group.POST("/reconcile", h.RunReconcile)
	group.POST("/cleanup", h.RunCleanup)
	group.POST("/deposit", h.Deposit)
}

type scanResponse struct {
	Success     bool     `json:"success"`
	Checked     int      `json:"checked"`
	Executed    int      `json:"executed"`
	Unavailable int      `json:"unavailable,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

type reconcileResponse struct {
	Success     bool     `json:"success"`
	Synced      int      `json:"synced"`
	TotalOrders int      `json:"total_orders"`
	Errors      []string `json:"errors,omitempty"`
}

type cleanupResponse struct {
	Success bool `json:"success"`
	Cleaned int  `json:"cleaned"`
	Total   int  `json:"total"`
	Failed  int  `json:"failed"`
}

func (h *AdminHandler) RunScan(c *gin.Context) {
	report, err := h.Scanner.Scan(c.Request.Context())
	if err != nil {
		h.Logger.Error("manual scan failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "scan failed")
		return
	}
	c.JSON(http.StatusOK, scanResponse{
		Success:     len(report.Errors) == 0,
		Checked:     report.Checked,
		Executed:    report.Executed,
		Unavailable: report.Unavailable,
		Errors:      report.Errors,
	})
}

func (h *AdminHandler) RunReconcile(c *gin.Context) {
	report, err := h.Reconcile.Reconcile(c.Request.Context())
	if err != nil {
		h.Logger.Error("manual reconciliation failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "reconciliation failed")
		return
	}
	c.JSON(http.StatusOK, reconcileResponse{
		Success:     len(report.Errors) == 0,
		Synced:      report.Synced,
		TotalOrders: report.TotalOrders,
		Errors:      report.Errors,
	})
}

type depositRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type depositResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
	Amount  string `json:"amount"`
}

func (h *AdminHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount must be a positive decimal")
		return
	}

	if err := h.Deposits.CreditBalance(c.Request.Context(), userID, amount); err != nil {
		h.Logger.Error("deposit failed", "user_id", userID, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "deposit failed")
		return
	}
	c.JSON(http.StatusOK, depositResponse{Success: true, UserID: userID.String(), Amount: amount.String()})
}

func (h *AdminHandler) RunCleanup(c *gin.Context) {
	report, err := h.Reconcile.Cleanup(c.Request.Context())
	if err != nil {
		h.Logger.Error("manual cleanup failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "cleanup failed")
		return
	}
	c.JSON(http.StatusOK, cleanupResponse{
		Success: len(report.Errors) == 0,
		Cleaned: report.Cleaned,
		Total:   report.Total,
		Failed:  len(report.Errors),
	})
}
