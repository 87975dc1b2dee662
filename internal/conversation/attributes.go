// ABOUTME: Defensive parsing of provider conversation attribute blobs
// ABOUTME: Extracts contact email/name and normalizes the blob for broadcasts

package conversation

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidAttributes is returned for attribute blobs that are not valid JSON.
var ErrInvalidAttributes = errors.New("invalid attributes JSON")

// Attributes is a parsed conversation attribute blob.
type Attributes struct {
	Email string
	Name  string
	// Raw is the blob as a JSON object; {} when empty or not an object.
	Raw json.RawMessage
}

var emptyObject = json.RawMessage(`{}`)

// ParseAttributes parses a provider attribute blob.
// Missing fields default to "". Valid JSON that is not an object yields empty
// Attributes; invalid JSON yields ErrInvalidAttributes.
func ParseAttributes(raw string) (Attributes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Attributes{Raw: emptyObject}, nil
	}
	if !gjson.Valid(raw) {
		return Attributes{Raw: emptyObject}, ErrInvalidAttributes
	}

	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return Attributes{Raw: emptyObject}, nil
	}
	return Attributes{
		Email: stringField(parsed, "email"),
		Name:  stringField(parsed, "name"),
		Raw:   json.RawMessage(raw),
	}, nil
}

// ParseAttributesOrEmpty is ParseAttributes for best-effort callers:
// invalid blobs become empty Attributes.
func ParseAttributesOrEmpty(raw string) Attributes {
	attrs, err := ParseAttributes(raw)
	if err != nil {
		return Attributes{Raw: emptyObject}
	}
	return attrs
}

func stringField(obj gjson.Result, key string) string {
	v := obj.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
