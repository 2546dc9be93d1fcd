package models

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Tweet is the decoded view of a raw firehose record.
// Only the fields the ingestion loop needs are extracted; the raw payload is
// what gets persisted.
type Tweet struct {
	// ID is the record identifier. Numeric ids keep their exact digits.
	ID string

	// Text is the UTF-8 post body
	Text string

	// Lang is the language tag reported by the firehose, if any
	Lang string
}

// DecodeError reports a raw record that could not be decoded
type DecodeError struct {
	Reason string
	Raw    []byte
}

func (e *DecodeError) Error() string {
	preview := e.Raw
	if len(preview) > 50 {
		preview = preview[:50]
	}
	return fmt.Sprintf("decode tweet: %s (first bytes: %q)", e.Reason, preview)
}

// DecodeTweet extracts id and text from a raw JSON record.
//
// The id may be a JSON integer or a JSON string. Integers are taken verbatim
// from the payload so 64-bit ids never pass through a float.
func DecodeTweet(raw []byte) (Tweet, error) {
	if !gjson.ValidBytes(raw) {
		return Tweet{}, &DecodeError{Reason: "invalid json", Raw: raw}
	}

	var t Tweet

	id := gjson.GetBytes(raw, "id")
	switch id.Type {
	case gjson.Number:
		if _, err := strconv.ParseInt(id.Raw, 10, 64); err != nil {
			return Tweet{}, &DecodeError{Reason: "id is not a 64-bit integer", Raw: raw}
		}
		t.ID = id.Raw
	case gjson.String:
		if !validStringID(id.Str) {
			return Tweet{}, &DecodeError{Reason: "id is empty or not path-safe", Raw: raw}
		}
		t.ID = id.Str
	default:
		return Tweet{}, &DecodeError{Reason: "missing id", Raw: raw}
	}

	text := gjson.GetBytes(raw, "text")
	if text.Type != gjson.String {
		return Tweet{}, &DecodeError{Reason: "missing text", Raw: raw}
	}
	t.Text = text.Str
	t.Lang = gjson.GetBytes(raw, "lang").String()

	return t, nil
}

// validStringID reports whether id can safely name a file.
func validStringID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
