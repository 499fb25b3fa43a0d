package scheme

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument indicates a document payload that does not decode to a JSON object.
var ErrInvalidDocument = errors.New("scheme: invalid document")

// Document is a decoded freeform settings object (layer_data, guide_data).
type Document map[string]json.RawMessage

// DecodeDocument parses a stored document string. Empty input decodes to an
// empty document so base rows created without settings still merge cleanly.
func DecodeDocument(raw string) (Document, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Document{}, nil
	}
	doc := Document{}
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Encode serializes the document back to its storage representation.
func (d Document) Encode() (string, error) {
	if d == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return string(encoded), nil
}

// Merge produces a new document starting from existing and overwriting with
// every key present in incoming. The merge is shallow: a key whose value is
// itself an object is replaced wholesale.
func Merge(existing, incoming Document) Document {
	merged := make(Document, len(existing)+len(incoming))
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range incoming {
		merged[key] = value
	}
	return merged
}

// MergeRaw merges an incoming partial document (wire form) onto a stored
// document string and returns the new storage representation.
func MergeRaw(stored string, incoming json.RawMessage) (string, error) {
	existingDoc, err := DecodeDocument(stored)
	if err != nil {
		return "", err
	}
	incomingDoc, err := DecodeDocument(string(incoming))
	if err != nil {
		return "", err
	}
	return Merge(existingDoc, incomingDoc).Encode()
}
