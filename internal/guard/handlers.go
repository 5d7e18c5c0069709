package guard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/txn"
	"github.com/mbd888/mevguard/internal/validation"
)

// MaxBatchSize caps POST /v1/protect/batch.
const MaxBatchSize = 100

// TransactionRequest is the wire form of a pending transaction. Amounts are
// base-10 strings so they survive JSON without precision loss.
type TransactionRequest struct {
	ID       string `json:"id,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
	Payload  string `json:"payload,omitempty"`
}

// BatchRequest is the body of POST /v1/protect/batch.
type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// BatchResult is one entry of a batch response.
type BatchResult struct {
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

// PoolRequest is the body of PUT /v1/pool.
type PoolRequest struct {
	Congestion       float64        `json:"congestion"`
	AvgGasPrice      string         `json:"avgGasPrice"`
	RecentSameTarget map[string]int `json:"recentSameTarget"`
}

// PoolPublisher is told about snapshots pushed through the API.
type PoolPublisher = pool.Publisher

// Handler provides HTTP endpoints for the guard.
type Handler struct {
	service   *Service
	publisher PoolPublisher
}

// NewHandler creates a new guard handler. publisher may be nil.
func NewHandler(service *Service, publisher PoolPublisher) *Handler {
	return &Handler{service: service, publisher: publisher}
}

// RegisterRoutes sets up guard routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/assess", h.Assess)
	r.POST("/protect", h.Protect)
	r.POST("/protect/batch", h.ProtectBatch)
	r.GET("/pool", h.GetPool)
	r.PUT("/pool", h.PutPool)
}

// Assess handles POST /v1/assess
func (h *Handler) Assess(c *gin.Context) {
	tx, ok := bindTransaction(c)
	if !ok {
		return
	}
	preview, err := h.service.Assess(c.Request.Context(), tx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Protect handles POST /v1/protect. A journey that ended in Failed is still
// a 200: the failure is part of the outcome.
func (h *Handler) Protect(c *gin.Context) {
	tx, ok := bindTransaction(c)
	if !ok {
		return
	}
	out, err := h.service.Protect(c.Request.Context(), tx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ProtectBatch handles POST /v1/protect/batch
func (h *Handler) ProtectBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if len(req.Transactions) == 0 || len(req.Transactions) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transactions must hold between 1 and 100 entries",
		})
		return
	}

	txs := make([]*txn.Transaction, len(req.Transactions))
	for i, r := range req.Transactions {
		tx, errs := r.toTransaction()
		if len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": errs.Error(),
				"details": errs,
				"index":   i,
			})
			return
		}
		txs[i] = tx
	}

	items := h.service.ProtectBatch(c.Request.Context(), txs)
	results := make([]BatchResult, len(items))
	for i, item := range items {
		if item.Err != nil {
			_, code, msg := classify(item.Err)
			results[i] = BatchResult{Error: code, Message: msg}
			continue
		}
		results[i] = BatchResult{Outcome: item.Outcome}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GetPool handles GET /v1/pool
func (h *Handler) GetPool(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Pool().Load())
}

// PutPool handles PUT /v1/pool
func (h *Handler) PutPool(c *gin.Context) {
	var req PoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("avgGasPrice", req.AvgGasPrice),
		validation.Integer("avgGasPrice", req.AvgGasPrice),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	avg, _ := validation.ParseInteger(req.AvgGasPrice)
	snap := pool.NewSnapshot(req.Congestion, avg, req.RecentSameTarget, time.Now())
	if err := snap.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_snapshot",
			"message": err.Error(),
		})
		return
	}

	h.service.Pool().Store(snap)
	metrics.PoolCongestion.Set(snap.Congestion)
	if h.publisher != nil {
		h.publisher.PublishPool(snap)
	}
	c.JSON(http.StatusOK, snap)
}

func bindTransaction(c *gin.Context) (*txn.Transaction, bool) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, false
	}
	tx, errs := req.toTransaction()
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return nil, false
	}
	return tx, true
}

// toTransaction validates the request shape. Semantic checks such as
// negative amounts are left to the pipeline so they end in a journey.
func (r TransactionRequest) toTransaction() (*txn.Transaction, validation.ValidationErrors) {
	if errs := validation.Validate(
		validation.UUID("id", r.ID),
		validation.MaxLength("from", r.From, validation.MaxStringLength),
		validation.Required("to", r.To),
		validation.MaxLength("to", r.To, validation.MaxStringLength),
		validation.Required("value", r.Value),
		validation.Integer("value", r.Value),
		validation.Required("gasPrice", r.GasPrice),
		validation.Integer("gasPrice", r.GasPrice),
		validation.Hex("payload", r.Payload),
		validation.MaxLength("payload", r.Payload, validation.MaxPayloadHexLength),
	); len(errs) > 0 {
		return nil, errs
	}

	value, _ := validation.ParseInteger(r.Value)
	gasPrice, _ := validation.ParseInteger(r.GasPrice)
	var payload []byte
	if r.Payload != "" {
		payload = hexutil.MustDecode(r.Payload)
	}
	tx := txn.New(
		validation.SanitizeString(r.From, validation.MaxStringLength),
		validation.SanitizeString(r.To, validation.MaxStringLength),
		value, gasPrice, payload,
	)
	if r.ID != "" {
		tx.ID = uuid.MustParse(r.ID)
	}
	return tx, nil
}

// classify maps a service error to an HTTP status, error code and message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrDuplicateTransaction):
		return http.StatusConflict, "duplicate_transaction", "A journey already exists for this transaction ID"
	case errors.Is(err, faults.ErrInvalidTransaction):
		return http.StatusUnprocessableEntity, "invalid_transaction", err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable", "Request ended before the transaction could be processed"
	default:
		return http.StatusInternalServerError, "internal_error", "Internal server error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code, msg := classify(err)
	c.JSON(status, gin.H{"error": code, "message": msg})
}
