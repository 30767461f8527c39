package api

import (
	"sprout-budget-go/internal/core"
	"sprout-budget-go/internal/models"
)

// ErrorResponse is a generic structure for returning errors via API.
type ErrorResponse struct {
	Error   string `json:"error"`             // A high-level error message or code
	Details string `json:"details,omitempty"` // More specific details about the error, if available
}

// SuccessResponse is a generic structure for simple success messages.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateRoomRequest is the body of POST /rooms.
type CreateRoomRequest struct {
	RoomName string `json:"roomName"`
}

// CreateRoomResponse returns the generated shareable code.
type CreateRoomResponse struct {
	Code     string `json:"code"`
	RoomName string `json:"roomName,omitempty"`
}

// JoinRoomRequest is the body of POST /rooms/join.
type JoinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

// StateResponse describes the session's current lifecycle state,
// derived presence, and any pending notices. Notices are drained by
// the request that reads them.
type StateResponse struct {
	State    core.State            `json:"state"`
	RoomID   string                `json:"roomId,omitempty"`
	RoomName string                `json:"roomName,omitempty"`
	Presence core.PresenceSnapshot `json:"presence"`
	Notices  []core.Notice         `json:"notices,omitempty"`
}

// AddTransactionRequest is the body of POST /budget/:month/transactions.
type AddTransactionRequest struct {
	Kind        string  `json:"kind" binding:"required"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount" binding:"required"`
}

// SetGoalRequest is the body of PUT /budget/:month/goal.
type SetGoalRequest struct {
	Goal string `json:"goal"`
}

// MonthSummary carries a month's document plus its derived figures.
// Balance is the month's own income minus spending; carryOver is the
// clamped surplus accumulated from all earlier months.
type MonthSummary struct {
	Month     models.MonthKey  `json:"month"`
	Data      models.MonthData `json:"data"`
	Income    float64          `json:"income"`
	Spending  float64          `json:"spending"`
	Balance   float64          `json:"balance"`
	CarryOver float64          `json:"carryOver"`
}

// BudgetResponse is the full budget view: the raw document and the
// per-month summaries in calendar order. Loaded is false while the
// initial snapshot for the current path is still pending.
type BudgetResponse struct {
	Loaded bool              `json:"loaded"`
	Months []MonthSummary    `json:"months"`
	Data   models.BudgetData `json:"data"`
}
