package wallet

const (
	operationOpenAccount    = "open_account"
	operationAuthorize      = "authorize"
	operationApply          = "apply"
	operationReverse        = "reverse"
	operationPendingCreate  = "pending_create"
	operationPendingResolve = "pending_resolve"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	referencePrefix    = "wc-"
	referenceDelimiter = ":"
	suffixReversal     = "reversal"

	lockShardCount = 64
)
