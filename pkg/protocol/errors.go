package protocol

// Error codes returned in ErrorShape.Code.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrInternal           = "INTERNAL"
)
