package model

// BatchOpType identifies a single batch operation kind.
type BatchOpType string

const (
	BatchInsert BatchOpType = "insert"
	BatchUpdate BatchOpType = "update"
	BatchDelete BatchOpType = "delete"
)

// BatchOperation is one operation in a synchronous batch request. Where is a
// conjunction of column=value equality predicates.
type BatchOperation struct {
	Operation BatchOpType              `json:"operation"`
	Table     string                   `json:"table"`
	Rows      []map[string]interface{} `json:"rows,omitempty"`
	Where     map[string]interface{}   `json:"where,omitempty"`
	Set       map[string]interface{}   `json:"set,omitempty"`
}

// BatchRequest executes multiple operations against the table engine.
type BatchRequest struct {
	Operations      []BatchOperation `json:"operations"`
	ContinueOnError bool             `json:"continue_on_error"`
}

// Stream output formats.
const (
	StreamJSONL = "jsonl"
	StreamJSON  = "json"
	StreamCSV   = "csv"
)

// StreamRequest configures a chunked export of a table. Where is a
// conjunction of column=value equality predicates; a zero Limit exports
// every matching row.
type StreamRequest struct {
	ChunkSize int                    `json:"chunk_size"`
	Format    string                 `json:"format"`
	Limit     int                    `json:"limit,omitempty"`
	Where     map[string]interface{} `json:"where,omitempty"`
}

// BatchError describes a single failed operation within a batch.
type BatchError struct {
	Operation int    `json:"operation"`
	Table     string `json:"table"`
	Error     string `json:"error"`
}

// BatchResult summarizes a completed batch request.
type BatchResult struct {
	TotalOperations int          `json:"total_operations"`
	Successful      int          `json:"successful"`
	Failed          int          `json:"failed"`
	Errors          []BatchError `json:"errors,omitempty"`
	ExecutionMs     float64      `json:"execution_time_ms"`
}
