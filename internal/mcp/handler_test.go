package mcp

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func callToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestGetObjectArg(t *testing.T) {
	req := callToolRequest(map[string]interface{}{
		"where":   map[string]interface{}{"id": float64(7)},
		"not_map": "plain string",
	})

	if got := getObjectArg(req, "where"); got == nil || got["id"] != float64(7) {
		t.Errorf("where = %v", got)
	}
	if got := getObjectArg(req, "not_map"); got != nil {
		t.Errorf("non-map value should yield nil, got %v", got)
	}
	if got := getObjectArg(req, "missing"); got != nil {
		t.Errorf("missing key should yield nil, got %v", got)
	}
}

func TestGetObjectSliceArg(t *testing.T) {
	req := callToolRequest(map[string]interface{}{
		"rows": []interface{}{
			map[string]interface{}{"name": "Alice"},
			map[string]interface{}{"name": "Bob"},
		},
		"mixed": []interface{}{
			map[string]interface{}{"ok": true},
			"not an object",
		},
	})

	rows := getObjectSliceArg(req, "rows")
	if len(rows) != 2 || rows[1]["name"] != "Bob" {
		t.Errorf("rows = %v", rows)
	}
	if got := getObjectSliceArg(req, "mixed"); got != nil {
		t.Errorf("mixed slice should yield nil, got %v", got)
	}
	if got := getObjectSliceArg(req, "missing"); got != nil {
		t.Errorf("missing key should yield nil, got %v", got)
	}
}

func TestSuccessJSONRoundTrip(t *testing.T) {
	result, err := successJSON(map[string]interface{}{"inserted": 3})
	if err != nil {
		t.Fatalf("successJSON: %v", err)
	}
	if result.IsError {
		t.Fatal("unexpected error result")
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", result.Content[0])
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["inserted"] != float64(3) {
		t.Errorf("inserted = %v", decoded["inserted"])
	}
}

func TestToolErrorIsNotSessionError(t *testing.T) {
	result, err := toolError("service %q not found", "warehouse")
	if err != nil {
		t.Fatalf("toolError should not return a Go error, got %v", err)
	}
	if !result.IsError {
		t.Fatal("result should be flagged as an error")
	}
}
