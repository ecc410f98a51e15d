package constant

const (
	SESSION_CONNECTED       = "session connect scheduled"
	SESSION_DISCONNECTED    = "session disconnected"
	DUPLICATE_CONNECT       = "user already has a connected session"
	SESSION_NOT_FOUND       = "session not found"
	INSUFFICIENT_BALANCE    = "insufficient balance"
	SUBSCRIPTION_EXCEEDED   = "subscription quota exceeded"
	RATE_LIMITED            = "rate limit exceeded"
	SESSION_NOT_READY       = "session is not ready"
	SESSION_BAD             = "session is in a bad state"
	API_KEY_REQUIRED        = "API key is required"
	API_KEY_INVALID         = "Invalid API key"
	WEBHOOK_CREATED         = "webhook created"
	WEBHOOK_UPDATED         = "webhook updated"
	WEBHOOK_DELETED         = "webhook deleted"
	WEBHOOK_TEST_FIRED      = "test event fired"
	UNKNOWN_TIER            = "unknown subscription tier"
)
