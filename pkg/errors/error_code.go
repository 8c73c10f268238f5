package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidBar           ErrorCode = 102
	ErrCodeInvalidOrder         ErrorCode = 103
	ErrCodeInvalidGranularity   ErrorCode = 104
	ErrCodeInvalidSignal        ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound     ErrorCode = 200
	ErrCodeStoreUnavailable ErrorCode = 201
	ErrCodeQueryFailed      ErrorCode = 202
	ErrCodeIncompleteData   ErrorCode = 203
	ErrCodeEmptySymbolSet   ErrorCode = 204

	// Filter errors (300-399)
	ErrCodeFilterFailed        ErrorCode = 300
	ErrCodeFilterEmptyUniverse ErrorCode = 301

	// Engine errors (400-499)
	ErrCodeEngineInitFailed  ErrorCode = 400
	ErrCodeEngineNotReady    ErrorCode = 401
	ErrCodeEngineInterrupted ErrorCode = 402

	// Portfolio errors (500-599)
	ErrCodePositionNotFound ErrorCode = 500
	ErrCodeNoHoldings       ErrorCode = 501

	// Execution errors (600-699)
	ErrCodeOrderFailed         ErrorCode = 600
	ErrCodeFillCorrelation     ErrorCode = 601
	ErrCodeExecutionUnroutable ErrorCode = 602

	// Gateway errors (700-799)
	ErrCodeGatewayFetchFailed     ErrorCode = 700
	ErrCodeGatewaySubscribeFailed ErrorCode = 701
	ErrCodeGatewayDisconnected    ErrorCode = 702
	ErrCodeGatewayParseFailed     ErrorCode = 703
)
