// Package guard holds the authorization and lifecycle checks applied before a
// registered request may be signed.
package guard

import "github.com/Layr-Labs/abstract-dao-go/pkg/types"

// IsActorAllowed reports whether actor is in the request's allow list.
func IsActorAllowed(req *types.Request, actor types.Actor) bool {
	if req == nil || actor == nil {
		return false
	}
	for _, allowed := range req.AllowedActors {
		if allowed != nil && allowed.Equal(actor) {
			return true
		}
	}
	return false
}

// IsTimeExceeded reports whether now is past the request's deadline. The deadline
// itself is still inside the window.
func IsTimeExceeded(req *types.Request, now types.Timestamp) bool {
	return now > req.Deadline
}
