package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// wireInvocation mirrors the exact field order the codec must emit: type,
// invocationId, target, arguments, streamIds. Relying on struct field
// declaration order (rather than building JSON by hand) keeps this
// straightforward while still producing byte-identical output, since
// encoding/json marshals struct fields in declaration order.
type wireInvocation struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	StreamIds    []string          `json:"streamIds"`
}

// encodeInvocation renders an outgoing Invocation record (fire-and-forget
// when invocationID is empty) terminated by the record separator.
func encodeInvocation(invocationID, target string, args []interface{}) ([]byte, error) {
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, err := marshalArgument(a)
		if err != nil {
			return nil, fmt.Errorf("marshal argument %d of %q: %w", i, target, err)
		}
		rawArgs[i] = raw
	}
	wire := wireInvocation{
		Type:         typeInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    rawArgs,
		StreamIds:    []string{},
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return terminate(body), nil
}

// marshalArgument implements the per-type encoding rule from the Hub
// Protocol: null for nil, a lowercase literal for bool, base64 for byte
// buffers, an ISO-8601 round-trip string for times, the generic JSON
// encoder for everything else complex, and correctly escaped JSON strings
// for plain strings.
func marshalArgument(v interface{}) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case bool:
		if val {
			return json.RawMessage("true"), nil
		}
		return json.RawMessage("false"), nil
	case []byte:
		return json.Marshal(val) // encoding/json renders []byte as a base64 string
	case time.Time:
		return json.Marshal(val.UTC().Format("2006-01-02T15:04:05.0000000Z"))
	case string:
		return json.RawMessage(escapeString(val)), nil
	case json.RawMessage:
		return val, nil
	default:
		return json.Marshal(val)
	}
}

// escapeString renders s as a complete, correctly escaped JSON string
// literal: quotes and backslashes are escaped, and control characters below
// 0x20 are rendered as \u00XX.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// encodePing renders the literal Ping record.
func encodePing() []byte {
	return terminate([]byte(`{"type":6}`))
}

// encodeClose renders the Close record the client sends on Stop; errorMessage
// may be empty for a clean stop.
func encodeClose(errorMessage string) []byte {
	if errorMessage == "" {
		return terminate([]byte(`{"type":7}`))
	}
	body := fmt.Sprintf(`{"type":7,"error":%v}`, escapeString(errorMessage))
	return terminate([]byte(body))
}

// encodeHandshake renders the literal handshake request record.
func encodeHandshake() []byte {
	body, _ := json.Marshal(handshakeRequest{Protocol: "json", Version: 1})
	return terminate(body)
}

func terminate(body []byte) []byte {
	out := make([]byte, len(body)+1)
	copy(out, body)
	out[len(body)] = recordSeparator
	return out
}

// splitRecords splits a transport payload on the record separator. A
// trailing empty fragment produced by the terminating delimiter is
// discarded. A payload whose last byte is not the separator yields its
// final fragment unterminated; the caller logs that as a non-SignalR
// message but still attempts to parse it.
func splitRecords(payload []byte) (records [][]byte, terminated bool) {
	terminated = len(payload) > 0 && payload[len(payload)-1] == recordSeparator
	parts := bytes.Split(payload, []byte{recordSeparator})
	if terminated && len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	for _, p := range parts {
		if len(p) > 0 {
			records = append(records, p)
		}
	}
	return records, terminated
}

// decodeRecord parses a single record (without its trailing separator) into
// one of the message structs in messages.go, selected by its "type" field.
func decodeRecord(record []byte) (interface{}, error) {
	var probe hubMessage
	if err := json.Unmarshal(record, &probe); err != nil {
		return nil, fmt.Errorf("decode hub message: %w", err)
	}
	switch probe.Type {
	case typeInvocation, typeStreamInvocation:
		var m invocationMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typeStreamItem:
		var m streamItemMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typeCompletion:
		var m completionMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typeCancelInvocation:
		var m cancelInvocationMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, err
		}
		return m, nil
	case typePing:
		return pingMessage{Type: typePing}, nil
	case typeClose:
		var m closeMessage
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return probe, nil
	}
}
