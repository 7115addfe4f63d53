// Package toolerr defines the error taxonomy shared by the registry, the
// session manager, the formatter, and every tool.
//
// # Kinds
//
// Kind is a closed enum. Each kind carries a default severity and
// retryability:
//
//	validation_error       low       not retryable
//	tool_not_found         medium    not retryable
//	tool_execution_error   high      retryable
//	protocol_error         high      not retryable
//	internal_error         critical  not retryable
//	authentication_error   high      not retryable
//	rate_limit_exceeded    medium    retryable
//	resource_not_found     low       not retryable
//	capacity_exceeded      high      not retryable
//
// Defaults can be overridden per instance:
//
//	err := toolerr.New(toolerr.KindExecution, "upstream returned garbage").
//	    WithRetryable(false)
//
// # Context
//
// NewContext builds the {tool, operation, severity, retryable, timestamp}
// record that the protocol formatter requires for every fault. Normalize
// turns anything a tool returns or panics with into a canonical *Error.
package toolerr
