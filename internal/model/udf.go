package model

import "time"

// UDFLanguage names a language a user-defined function can be written in.
type UDFLanguage string

const (
	UDFPython     UDFLanguage = "python"
	UDFSQL        UDFLanguage = "sql"
	UDFJavaScript UDFLanguage = "javascript"
)

// ValidUDFLanguage reports whether l is a supported function language.
func ValidUDFLanguage(l UDFLanguage) bool {
	switch l {
	case UDFPython, UDFSQL, UDFJavaScript:
		return true
	}
	return false
}

// UDFParameter declares one named, typed parameter of a function.
type UDFParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UDFDefinition is the payload used to register a user-defined function.
// Deterministic defaults to true when omitted.
type UDFDefinition struct {
	Name          string         `json:"name"`
	Language      UDFLanguage    `json:"language"`
	Code          string         `json:"code"`
	Parameters    []UDFParameter `json:"parameters"`
	ReturnType    string         `json:"return_type"`
	Description   string         `json:"description,omitempty"`
	Deterministic *bool          `json:"deterministic,omitempty"`
}

// UDF is a registered user-defined function. The function body is kept
// internal to the registry; only the declared signature is exposed.
type UDF struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Language      UDFLanguage    `json:"language"`
	Parameters    []UDFParameter `json:"parameters"`
	ReturnType    string         `json:"return_type"`
	Description   string         `json:"description,omitempty"`
	Deterministic bool           `json:"deterministic"`
	CreatedAt     time.Time      `json:"created_at"`
	UsageCount    int64          `json:"usage_count"`
}

// UDFExecution reports the outcome of invoking a function through the API.
// Result stays null until an execution backend is attached; the call still
// validates the arguments against the declared signature and counts toward
// usage.
type UDFExecution struct {
	UDFName         string                 `json:"udf_name"`
	Parameters      map[string]interface{} `json:"parameters"`
	Result          interface{}            `json:"result"`
	ExecutionTimeMS float64                `json:"execution_time_ms"`
}
