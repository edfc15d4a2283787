package api

import (
	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/limits/budget"
	"modelbench/gatekeeper/pkg/limits/money"
	"modelbench/gatekeeper/pkg/limits/storage"
)

// AdmissionRequest is the body of POST /v1/admission.
type AdmissionRequest struct {
	UserID      string `json:"user_id"`
	Endpoint    string `json:"endpoint"`
	Environment string `json:"environment"`
}

// SpendRequest is the body of POST /v1/spend.
type SpendRequest struct {
	UserID      string       `json:"user_id"`
	Environment string       `json:"environment"`
	Amount      money.Amount `json:"amount"`
}

// LimitRequest is the body of PUT /v1/limits/{environment}/{endpoint}.
type LimitRequest struct {
	MaxCallsPerMinute int64 `json:"max_calls_per_minute"`
	MaxCallsPerHour   int64 `json:"max_calls_per_hour"`
	MaxCallsPerDay    int64 `json:"max_calls_per_day"`
}

// BudgetResponse is returned by the budget endpoints. Record is nil when the user
// has not spent in the current period.
type BudgetResponse struct {
	Record *storage.BudgetRecord `json:"record"`
	Status *budget.Status         `json:"status"`
}

// LimitsResponse lists every limit configuration.
type LimitsResponse struct {
	Limits []storage.LimitConfig `json:"limits"`
}

// AuditResponse is one page of GET /v1/audit. Total counts every matching record.
type AuditResponse struct {
	Records []*audit.Record `json:"records"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}
