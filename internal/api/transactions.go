package api

import (
	"context"       // Request-scoped operations
	"encoding/json" // Exact amount rendering
	"errors"        // Error matching
	"net/http"      // HTTP status codes
	"strconv"       // Query parsing
	"time"          // Timestamps

	"txn_webhook/internal/domain" // Importing domain models
	"txn_webhook/internal/ingest" // Ingestion service

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Fixed-point amounts
	"github.com/sirupsen/logrus"    // Logging library
)

// TransactionService is what the handlers need from the ingestion service
type TransactionService interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (ingest.Result, error)
	Get(ctx context.Context, id string) (domain.Transaction, error)
	List(ctx context.Context, opts ingest.ListOptions) (ingest.Page, error)
}

// WebhookRequest represents an inbound transaction event
type WebhookRequest struct {
	TransactionID      string           `json:"transaction_id" binding:"required"`      // Idempotency key
	SourceAccount      string           `json:"source_account" binding:"required"`      // Debited account
	DestinationAccount string           `json:"destination_account" binding:"required"` // Credited account
	Amount             *decimal.Decimal `json:"amount" binding:"required"`              // Number or numeric string
	Currency           string           `json:"currency" binding:"required"`            // Currency code
}

// TransactionResponse is the public view of a transaction
type TransactionResponse struct {
	TransactionID      string        `json:"transaction_id"`
	SourceAccount      string        `json:"source_account"`
	DestinationAccount string        `json:"destination_account"`
	Amount             json.Number   `json:"amount"`
	Currency           string        `json:"currency"`
	Status             domain.Status `json:"status"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	ProcessedAt        *time.Time    `json:"processed_at"`
}

// NewTransactionResponse renders the amount as a JSON number without going through float64
func NewTransactionResponse(txn domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:      txn.TransactionID,
		SourceAccount:      txn.SourceAccount,
		DestinationAccount: txn.DestinationAccount,
		Amount:             json.Number(txn.Amount.String()),
		Currency:           txn.Currency,
		Status:             txn.Status,
		FailureReason:      txn.FailureReason,
		CreatedAt:          txn.CreatedAt,
		ProcessedAt:        txn.ProcessedAt,
	}
}

// ReceiveWebhookHandler accepts a transaction event exactly once per transaction_id
func ReceiveWebhookHandler(svc TransactionService, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WebhookRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
			return
		}
		res, err := svc.Submit(c.Request.Context(), ingest.SubmitRequest{
			TransactionID:      req.TransactionID,
			SourceAccount:      req.SourceAccount,
			DestinationAccount: req.DestinationAccount,
			Amount:             *req.Amount,
			Currency:           req.Currency,
		})
		switch {
		case errors.Is(err, ingest.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		case err != nil:
			// Log the error with context, the caller only sees a generic failure
			logger.WithFields(logrus.Fields{
				"transaction_id": req.TransactionID,        // Transaction ID
				"request_id":     c.GetString("requestID"), // Correlation ID
				"error":          err.Error(),              // Error message
			}).Error("Failed to record transaction")
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to record transaction"})
		case res == ingest.ResultAlreadyExists:
			c.JSON(http.StatusOK, gin.H{"status": res}) // Duplicate delivery
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": res}) // First sighting
		}
	}
}

// GetTransactionHandler returns the current state of one transaction
func GetTransactionHandler(svc TransactionService, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("transaction_id")
		txn, err := svc.Get(c.Request.Context(), id)
		if errors.Is(err, ingest.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Transaction not found"})
			return
		}
		if err != nil {
			logger.WithFields(logrus.Fields{
				"transaction_id": id,
				"error":          err.Error(),
			}).Error("Failed to read transaction")
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read transaction"})
			return
		}
		c.JSON(http.StatusOK, NewTransactionResponse(txn))
	}
}

// ListTransactionsHandler pages through transactions, optionally filtered by status
func ListTransactionsHandler(svc TransactionService, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := ingest.ListOptions{Status: c.Query("status")}
		if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
			opts.Page = p // Invalid values fall back to the first page
		}
		if ps, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
			opts.PageSize = ps // Out of range sizes fall back to the default
		}
		page, err := svc.List(c.Request.Context(), opts)
		if errors.Is(err, ingest.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if err != nil {
			logger.WithError(err).Error("Failed to list transactions")
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to list transactions"})
			return
		}
		items := make([]TransactionResponse, 0, len(page.Transactions))
		for _, txn := range page.Transactions {
			items = append(items, NewTransactionResponse(txn))
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": items,           // Current page
			"page":         page.Page,       // Current page number
			"page_size":    page.PageSize,   // Page size
			"total":        page.Total,      // Total matching transactions
			"total_pages":  page.TotalPages, // Total pages
		})
	}
}
