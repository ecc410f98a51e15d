package state

import (
	"context"
)

const (
	CurrentUserId  = "CurrentUserId"
	CurrentUserIP  = "CurrentIP"
	CurrentSession = "CurrentSessionID"
	CurrentAPIKey  = "CurrentAPIKeyID"
)

// CurrentUser returns the current user's ID as uint from the context.
func CurrentUser(ctx context.Context) uint {
	value := ctx.Value(CurrentUserId)
	if value == nil {
		return 0
	}

	userID, ok := value.(uint)
	if !ok {
		return 0
	}

	return userID
}

func SetCurrentUser(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, CurrentUserId, userID)
}

// CurrentSessionID returns the session id an API key request was bound to,
// set by middleware.APIKeyAuth.
func CurrentSessionID(ctx context.Context) string {
	value := ctx.Value(CurrentSession)
	if value == nil {
		return ""
	}
	sessionID, _ := value.(string)
	return sessionID
}
