// Package protocol holds the MCP wire types and the response pipeline that
// every tool result passes through on its way out.
//
// Success results go through Formatter.SuccessResponse, which runs the
// structural validator. Failures go through Formatter.ErrorResponse, which
// yields both a JSON-RPC fault and an in-band envelope flagged isError, so a
// transport can deliver whichever form its client expects.
//
// Fault codes by kind:
//
//	validation_error       -32602
//	tool_not_found         -32601
//	tool_execution_error   -32603
//	protocol_error         -32600
//	internal_error         -32603
//	authentication_error   -32600
//	rate_limit_exceeded    -32603
//	resource_not_found     -32602
//	anything else          -32603
package protocol
