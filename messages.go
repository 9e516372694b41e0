package signalr

import "encoding/json"

// Hub Protocol v1 message type codes.
// https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
const (
	typeInvocation       = 1
	typeStreamItem       = 2
	typeCompletion       = 3
	typeStreamInvocation = 4
	typeCancelInvocation = 5
	typePing             = 6
	typeClose            = 7
)

// recordSeparator terminates every text-format Hub Protocol message.
const recordSeparator = 0x1e

// hubMessage is the envelope every Hub Protocol record shares. It is used to
// sniff the type field before unmarshaling into the concrete struct below.
type hubMessage struct {
	Type int `json:"type"`
}

// invocationMessage represents a method call and its arguments. StreamIds is
// always empty; upload streaming is out of scope for this client.
type invocationMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	StreamIds    []string          `json:"streamIds,omitempty"`
}

// completionMessage carries the outcome of an invocation: either Result or
// Error is set, never both.
type completionMessage struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// streamItemMessage is accepted on the wire (so a server that streams at us
// does not desync the connection) but is not exposed through the public
// API; this client does not support streaming invocations.
type streamItemMessage struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Item         json.RawMessage `json:"item"`
}

type cancelInvocationMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
}

type pingMessage struct {
	Type int `json:"type"`
}

type closeMessage struct {
	Type           int     `json:"type"`
	Error          *string `json:"error,omitempty"`
	AllowReconnect bool    `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}
