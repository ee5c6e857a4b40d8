// FILE: chatwisp/src/internal/core/const.go
package core

// Retention and query defaults
const (
	DefaultMaxEntries     = 500
	DefaultQueryLimit     = 500
	MaxQueryLimit         = 2000
	DefaultMaxErrors      = 2000
	DefaultMaxFieldLength = 4000
	DefaultReceiverName   = "chatwisp"
)

// Credential headers accepted on the write and read paths
const (
	HeaderWriteKey     = "x-log-key"
	HeaderWriteKeyAlt  = "x_log_key"
	HeaderForwardKey   = "x-log-forward-key"
	HeaderViewKey      = "x-log-view-key"
	QueryParamViewKey  = "key"
	DefaultTokenLength = 32
)
