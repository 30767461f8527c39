package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sprout-budget-go/internal/calculator"
	"sprout-budget-go/internal/core"
	"sprout-budget-go/internal/models"
)

// BudgetHandler handles budget document API endpoints. Every endpoint
// operates on the session's currently bound path, personal or room;
// the handler never needs to know which.
type BudgetHandler struct {
	sessions *core.SessionManager
	rooms    *RoomHandler
	logger   *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler. It shares the room
// handler's session resolution.
func NewBudgetHandler(sessions *core.SessionManager, rooms *RoomHandler, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{sessions: sessions, rooms: rooms, logger: logger}
}

// GetBudget handles GET /api/v1/budget: the raw document plus derived
// per-month figures including the carried-over surplus.
func (h *BudgetHandler) GetBudget(c *gin.Context) {
	s := h.rooms.session(c)
	if s == nil {
		return
	}
	data, loaded := s.Manager.Budget().Snapshot()

	months := make([]MonthSummary, 0, len(models.Months))
	for _, month := range models.Months {
		income, spending, balance := calculator.MonthTotals(data[month])
		months = append(months, MonthSummary{
			Month:     month,
			Data:      data[month],
			Income:    income,
			Spending:  spending,
			Balance:   balance,
			CarryOver: calculator.AccumulatedSurplusBefore(month, data),
		})
	}

	c.JSON(http.StatusOK, BudgetResponse{Loaded: loaded, Months: months, Data: data})
}

// AddTransaction handles POST /api/v1/budget/:month/transactions.
func (h *BudgetHandler) AddTransaction(c *gin.Context) {
	s := h.rooms.session(c)
	if s == nil {
		return
	}
	var req AddTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	kind, err := core.ParseTransactionKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid transaction kind", Details: err.Error()})
		return
	}

	month := models.MonthKey(c.Param("month"))
	tx, err := s.Manager.Budget().AddTransaction(c.Request.Context(), month, kind, req.Description, req.Amount)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, SuccessResponse{Message: "Transaction added", Data: tx})
	case errors.Is(err, core.ErrInvalidMonth):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown month", Details: err.Error()})
	case errors.Is(err, core.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid amount", Details: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to add transaction", Details: err.Error()})
	}
}

// DeleteTransaction handles DELETE
// /api/v1/budget/:month/transactions/:kind/:id. Deleting an id that is
// not present succeeds; the end state is the same.
func (h *BudgetHandler) DeleteTransaction(c *gin.Context) {
	s := h.rooms.session(c)
	if s == nil {
		return
	}
	kind, err := core.ParseTransactionKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid transaction kind", Details: err.Error()})
		return
	}

	month := models.MonthKey(c.Param("month"))
	err = s.Manager.Budget().DeleteTransaction(c.Request.Context(), month, kind, c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, SuccessResponse{Message: "Transaction deleted"})
	case errors.Is(err, core.ErrInvalidMonth):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown month", Details: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to delete transaction", Details: err.Error()})
	}
}

// SetFinancialGoal handles PUT /api/v1/budget/:month/goal.
func (h *BudgetHandler) SetFinancialGoal(c *gin.Context) {
	s := h.rooms.session(c)
	if s == nil {
		return
	}
	var req SetGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	month := models.MonthKey(c.Param("month"))
	err := s.Manager.Budget().SetFinancialGoal(c.Request.Context(), month, req.Goal)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, SuccessResponse{Message: "Financial goal updated"})
	case errors.Is(err, core.ErrInvalidMonth):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown month", Details: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to update goal", Details: err.Error()})
	}
}
