package services

import "context"

// Actor is the identity on whose behalf a service call runs. Elevated actors
// may write records the user does not own; services elevate explicitly for
// the individual sub-steps that need it.
type Actor struct {
	UserID   string
	Elevated bool
}

// UserActor returns a non-elevated actor for userID.
func UserActor(userID string) Actor { return Actor{UserID: userID} }

// Elevate returns a copy of a with elevated rights.
func (a Actor) Elevate() Actor {
	a.Elevated = true
	return a
}

// Locker serializes work on a key. See package lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
