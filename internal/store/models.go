package store

import "time"

// ScriptDefinition is a stored user script.
type ScriptDefinition struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Code         string     `json:"code"`
	LastExecuted *time.Time `json:"last_executed,omitempty"`
}

// TokenEntry is a named, typed value mirrored by a live handle in the
// automation fabric.
type TokenEntry struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "boolean", "number" or "string"
	Value any    `json:"value"`
}
