package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidRange         ErrorCode = 102
	ErrCodeInvalidDataKind      ErrorCode = 103
	ErrCodeInvalidTimeframe     ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Cache errors (200-299)
	ErrCodePageNotFound    ErrorCode = 200
	ErrCodeManagerStopped  ErrorCode = 201
	ErrCodeQueueSaturated  ErrorCode = 202
	ErrCodeListenerMissing ErrorCode = 203

	// Coverage errors (300-399)
	ErrCodeCoverageCorrupt ErrorCode = 300

	// Indicator errors (400-499)
	ErrCodeIndicatorNotFound      ErrorCode = 400
	ErrCodeIndicatorAlreadyExists ErrorCode = 401
	ErrCodeIndicatorCalculation   ErrorCode = 402
	ErrCodeIndicatorSourceGone    ErrorCode = 403

	// Fetch errors (500-599)
	ErrCodeFetchFailed    ErrorCode = 500
	ErrCodeFetchTimeout   ErrorCode = 501
	ErrCodeFetchRateLimit ErrorCode = 502
	ErrCodeFetchPermanent ErrorCode = 503
	ErrCodeFetchParse     ErrorCode = 504

	// Store errors (600-699)
	ErrCodeStoreOpenFailed  ErrorCode = 600
	ErrCodeStoreQueryFailed ErrorCode = 601
	ErrCodeStoreWriteFailed ErrorCode = 602

	// Config errors (700-799)
	ErrCodeConfigNotFound ErrorCode = 700
	ErrCodeConfigParse    ErrorCode = 701
	ErrCodeConfigInvalid  ErrorCode = 702
)
