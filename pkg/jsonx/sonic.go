// Package jsonx wraps Sonic for the record blobs written by the durable
// tiers. Decoding is strict about syntax so corrupt blobs surface as errors
// instead of half-filled records.
package jsonx

import (
	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML:     false,
	SortMapKeys:    true,
	ValidateString: true,
	CopyString:     true,
	UseInt64:       true,
}.Froze()

// Marshal returns the JSON encoding of v. Map keys are sorted so equal
// records always produce equal blobs.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent is Marshal with indentation, used by the file backend.
func MarshalIndent(v interface{}) ([]byte, error) {
	return api.MarshalIndent(v, "", "  ")
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
