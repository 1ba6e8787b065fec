/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Tasks themselves are
  exchanged in the factory wire format; everything here wraps them or
  reports engine results.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TIMESTAMPS:
  Instants are Unix milliseconds, matching the completion log. Calendar
  days are "YYYY-MM-DD" in the server's configured timezone.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/task.go: TaskJSON / InstanceJSON
*/
package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/factory"
)

// =============================================================================
// ENGINE ENDPOINTS
// =============================================================================

// ExpandRequest asks for the occurrences of one instance. Kind selects the
// task or event field names inside Instance and defaults to task.
type ExpandRequest struct {
	Kind     string          `json:"kind,omitempty"`
	Instance json.RawMessage `json:"instance"`
	Start    *int64          `json:"start,omitempty"`
	End      *int64          `json:"end,omitempty"`
}

// OccurrencesResponse lists occurrences as instants and as local days.
type OccurrencesResponse struct {
	Occurrences []int64  `json:"occurrences"`
	Dates       []string `json:"dates"`
}

// EvaluateRequest carries a full task document.
type EvaluateRequest struct {
	Task factory.TaskJSON `json:"task"`
}

// EvaluateResponse is the completion verdict for a task.
type EvaluateResponse struct {
	Complete bool        `json:"complete"`
	Progress ProgressDTO `json:"progress"`
}

// ProgressDTO represents recurrence.Progress. Ratio is a decimal string.
type ProgressDTO struct {
	Expected  int                   `json:"expected"`
	Completed int                   `json:"completed"`
	Ratio     decimal.Decimal       `json:"ratio"`
	Complete  bool                  `json:"complete"`
	Instances []InstanceProgressDTO `json:"instances"`
}

type InstanceProgressDTO struct {
	Index     int `json:"index"`
	Expected  int `json:"expected"`
	Completed int `json:"completed"`
}

// =============================================================================
// STORED TASK ENDPOINTS
// =============================================================================

// StatusResponse summarizes a stored task as of a point in time. Complete
// and Progress are omitted when an instance has an open date range.
type StatusResponse struct {
	TaskID    string          `json:"taskId"`
	AsOf      int64           `json:"asOf"`
	Complete  *bool           `json:"complete,omitempty"`
	Progress  *ProgressDTO    `json:"progress,omitempty"`
	OpenEnded bool            `json:"openEnded"`
	Overdue   []OccurrenceDTO `json:"overdue"`
}

type OccurrenceDTO struct {
	InstanceIndex int    `json:"instanceIndex"`
	At            int64  `json:"at"`
	Date          string `json:"date"`
}

// CompletionRequest logs a completion. At defaults to now.
type CompletionRequest struct {
	At *int64 `json:"at,omitempty"`
}

type CompletionDTO struct {
	TaskID        string `json:"taskId"`
	InstanceIndex int    `json:"instanceIndex"`
	At            int64  `json:"at"`
	Date          string `json:"date"`
}

// RRuleDTO is an RFC 5545 rendering of a recurring instance.
type RRuleDTO struct {
	DTStart int64  `json:"dtstart"`
	Rule    string `json:"rule"`
	Text    string `json:"text"`
}

// =============================================================================
// COMMON
// =============================================================================

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Details any             `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// FieldErrorDTO is one validation failure.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
