package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist. For lookups
	// where absence is a normal outcome (unknown username, consumed ceremony)
	// callers branch on it rather than failing outright.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a unique key collision on insert.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrAlreadyVoted indicates the user already voted on the poll.
	ErrAlreadyVoted = errors.New("user already voted on this poll")
)
