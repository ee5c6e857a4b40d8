// FILE: chatwisp/src/internal/ingest/normalize.go
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"chatwisp/src/internal/core"

	"github.com/fxamacker/cbor/v2"
)

const contentTypeCBOR = "application/cbor"

// Canonical fields and the submission keys accepted for each, in priority order
var aliasTable = []struct {
	field string
	keys  []string
}{
	{"question", []string{"question", "contents", "userMessage", "user"}},
	{"answer", []string{"answer", "response", "aiResponse", "ai"}},
	{"timestamp", []string{"timestamp", "time"}},
	{"ip", []string{"ip", "clientIp"}},
	{"city", []string{"city"}},
	{"region", []string{"region"}},
	{"country", []string{"country"}},
	{"lat", []string{"lat", "latitude"}},
	{"lon", []string{"lon", "longitude"}},
	{"user_agent", []string{"user_agent", "userAgent"}},
	{"session", []string{"session", "sessionId"}},
}

var cborDecMode = mustCBORDecMode()

func mustCBORDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ingest: cbor decode mode: %v", err))
	}
	return dm
}

// Request-level facts used when the submission omits them
type RequestMeta struct {
	RemoteIP  string
	UserAgent string
	RequestID string
}

// Normalizer maps submission objects onto the canonical entry shape
type Normalizer struct {
	maxFieldLength int
	receiverName   string
}

func NewNormalizer(maxFieldLength int, receiverName string) *Normalizer {
	if maxFieldLength <= 0 {
		maxFieldLength = core.DefaultMaxFieldLength
	}
	return &Normalizer{
		maxFieldLength: maxFieldLength,
		receiverName:   receiverName,
	}
}

// Decodes a JSON or CBOR body into a submission object and its JSON form
func DecodeBody(contentType string, body []byte) (map[string]any, json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, core.NewValidationError("missing body")
	}

	if isCBOR(contentType) {
		var v any
		if err := cborDecMode.Unmarshal(body, &v); err != nil {
			return nil, nil, core.NewValidationError("malformed cbor: %v", err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, nil, core.NewValidationError("body must be an object")
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, nil, core.NewValidationError("cbor body not representable as json: %v", err)
		}
		return m, raw, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, nil, core.NewValidationError("malformed json: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil, core.NewValidationError("body must be a JSON object")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, nil, core.NewValidationError("malformed json: %v", err)
	}
	return obj, compact.Bytes(), nil
}

func isCBOR(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), contentTypeCBOR)
}

// Builds an entry without an id. The caller assigns the id on the serialized write path.
func (n *Normalizer) Normalize(obj map[string]any, raw json.RawMessage, meta RequestMeta, now time.Time) (core.LogEntry, error) {
	fields := make(map[string]any, len(aliasTable))
	for _, a := range aliasTable {
		for _, key := range a.keys {
			if v, ok := obj[key]; ok && v != nil {
				fields[a.field] = v
				break
			}
		}
	}

	entry := core.LogEntry{
		Timestamp:  now,
		ReceivedAt: now,
		ReceivedBy: n.receiverName,
		IP:         core.StringPtr(textValue(fields["ip"])),
		City:       core.StringPtr(textValue(fields["city"])),
		Region:     core.StringPtr(textValue(fields["region"])),
		Country:    core.StringPtr(textValue(fields["country"])),
		Lat:        floatValue(fields["lat"]),
		Lon:        floatValue(fields["lon"]),
		UserAgent:  core.StringPtr(textValue(fields["user_agent"])),
		Session:    core.StringPtr(textValue(fields["session"])),
		Question:   n.payloadValue(fields, "question"),
		Answer:     n.payloadValue(fields, "answer"),
		Raw:        raw,
	}

	if entry.Question == nil && entry.Answer == nil {
		return core.LogEntry{}, core.NewValidationError("at least one of question or answer is required")
	}

	if ts, ok := timeValue(fields["timestamp"]); ok {
		entry.Timestamp = ts
	}
	if entry.IP == nil {
		entry.IP = core.StringPtr(meta.RemoteIP)
	}
	if entry.UserAgent == nil {
		entry.UserAgent = core.StringPtr(meta.UserAgent)
	}

	return entry, nil
}

// Payload fields count as present when submitted non-null, even if empty
func (n *Normalizer) payloadValue(fields map[string]any, field string) *string {
	v, ok := fields[field]
	if !ok {
		return nil
	}
	text := n.truncate(textValue(v))
	return &text
}

// Cuts s to at most maxFieldLength runes
func (n *Normalizer) truncate(s string) string {
	if utf8.RuneCountInString(s) <= n.maxFieldLength {
		return s
	}
	count := 0
	for i := range s {
		if count == n.maxFieldLength {
			return s[:i]
		}
		count++
	}
	return s
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int64, uint64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Accepts a number or a numeric string
func floatValue(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int64:
		f = float64(t)
	case uint64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Accepts RFC 3339 text or epoch milliseconds
func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case float64:
		if t > 0 && t < math.MaxInt64 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
	case int64:
		if t > 0 {
			return time.UnixMilli(t).UTC(), true
		}
	case uint64:
		if t > 0 && t < math.MaxInt64 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
	}
	return time.Time{}, false
}
