package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest requests aggregated call metrics.
// Tenant isolation: BusinessID is required.

type SummaryRequest struct {
	BusinessID string    `json:"business_id"`
	Range      TimeRange `json:"range"`

	// TableID optionally narrows the summary to one table.
	TableID string `json:"table_id,omitempty"`
}

type Summary struct {
	BusinessID string `json:"business_id"`
	TableID    string `json:"table_id,omitempty"`

	TotalCalls        int `json:"total_calls"`
	PendingCalls      int `json:"pending_calls"`
	AcknowledgedCalls int `json:"acknowledged_calls"`
	CompletedCalls    int `json:"completed_calls"`
	UrgentCalls       int `json:"urgent_calls"`

	// Latency figures only count calls that actually reached the state.
	AverageAckSeconds      int `json:"average_ack_seconds"`
	AverageCompleteSeconds int `json:"average_complete_seconds"`

	// CallsPerTable supports spotting tables that call far more often than
	// the rest of the floor.
	CallsPerTable map[string]int `json:"calls_per_table"`
}
