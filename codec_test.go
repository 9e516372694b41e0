package signalr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInvocationFieldOrderAndTerminator(t *testing.T) {
	body, err := encodeInvocation("", "Echo", []interface{}{"hi"})
	require.NoError(t, err)
	assert.Equal(t, byte(recordSeparator), body[len(body)-1])
	assert.Equal(t,
		`{"type":1,"invocationId":"","target":"Echo","arguments":["hi"],"streamIds":[]}`+"\x1e",
		string(body))
}

func TestEncodeInvocationWithID(t *testing.T) {
	body, err := encodeInvocation("0", "Add", []interface{}{2, 3})
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":1,"invocationId":"0","target":"Add","arguments":[2,3],"streamIds":[]}`+"\x1e",
		string(body))
}

func TestMarshalArgumentTypes(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"float", 1.5, "1.5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw, err := marshalArgument(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, string(raw))
		})
	}
}

func TestEscapeStringEscapesQuotesAndControlChars(t *testing.T) {
	assert.Equal(t, `"a\"b"`, escapeString(`a"b`))
	assert.Equal(t, `"a\\b"`, escapeString(`a\b`))
	assert.Equal(t, `"a\nb"`, escapeString("a\nb"))
	assert.Equal(t, `"ab"`, escapeString("a\x01b"))
}

func TestEncodePingAndClose(t *testing.T) {
	assert.Equal(t, []byte("{\"type\":6}\x1e"), encodePing())
	assert.Equal(t, []byte("{\"type\":7}\x1e"), encodeClose(""))
	assert.Equal(t, []byte(`{"type":7,"error":"boom"}`+"\x1e"), encodeClose("boom"))
}

func TestSplitRecordsDiscardsTrailingEmptyFragment(t *testing.T) {
	payload := []byte(`{"type":6}` + "\x1e" + `{"type":1,"target":"x","arguments":[]}` + "\x1e")
	records, terminated := splitRecords(payload)
	require.True(t, terminated)
	require.Len(t, records, 2)
	assert.Equal(t, `{"type":6}`, string(records[0]))
}

func TestSplitRecordsNonTerminatedTrailingFragment(t *testing.T) {
	payload := []byte(`{"type":6}` + "\x1e" + `{"type":6}`)
	records, terminated := splitRecords(payload)
	assert.False(t, terminated)
	require.Len(t, records, 2)
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	body, err := encodeInvocation("7", "Add", []interface{}{1, 2})
	require.NoError(t, err)
	records, _ := splitRecords(body)
	require.Len(t, records, 1)

	decoded, err := decodeRecord(records[0])
	require.NoError(t, err)
	inv, ok := decoded.(invocationMessage)
	require.True(t, ok)
	assert.Equal(t, "7", inv.InvocationID)
	assert.Equal(t, "Add", inv.Target)
	assert.Len(t, inv.Arguments, 2)
}

func TestDecodeRecordCompletionWithError(t *testing.T) {
	decoded, err := decodeRecord([]byte(`{"type":3,"invocationId":"0","error":"boom"}`))
	require.NoError(t, err)
	c, ok := decoded.(completionMessage)
	require.True(t, ok)
	assert.Equal(t, "boom", c.Error)
}
