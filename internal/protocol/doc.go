// Package protocol defines the wire format between the zpbuild CLI and the
// zpbuild daemon.
//
// Every message is a single line of JSON holding an [Envelope]: the protocol
// version, a [Command] and a command-specific payload. A connection carries
// exactly one request and one response. Responses use [CmdOK] with the
// command's result type, or [CmdError] with an [ErrorResult].
package protocol
