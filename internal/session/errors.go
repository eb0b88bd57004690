package session

import "errors"

// Failure kinds returned by Store operations. Callers branch with errors.Is
// and translate each kind into a reply for the acting user.
var (
	ErrNotFound       = errors.New("session not found")
	ErrForbidden      = errors.New("only the creator may delete a session")
	ErrAlreadyCreator = errors.New("creator is already a member")
	ErrAlreadyMember  = errors.New("already a member")
	ErrFull           = errors.New("session is full")
	ErrNotAMember     = errors.New("not a member")
)
