/*
Package signalr implements a client for the SignalR Hub Protocol version 1
with JSON payloads over a WebSocket transport.

A HubConnection is built with NewHubConnection, configured with functional
Options, and started with Start, which blocks until the handshake completes.
Once Connected, SendCore invokes a server method without waiting for a
reply, InvokeCoreAsync invokes a method and returns a Handle whose Value
blocks for the result, and On registers a callback for server-initiated
invocations.

For more on the protocol itself, see
https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
*/
package signalr
