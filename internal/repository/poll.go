package repository

import (
	"context"

	"github.com/google/uuid"

	"pollpass/internal/domain"
)

// PollRepository exposes persistence operations for polls, options and votes.
type PollRepository interface {
	Init(ctx context.Context) error
	CreatePoll(ctx context.Context, poll *domain.Poll) error
	GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error)
	ListPolls(ctx context.Context) ([]domain.Poll, error)
	ListOptions(ctx context.Context, pollID uuid.UUID) ([]domain.PollOption, error)
	// CastVote records a vote and increments the option tally in one
	// transaction. A second vote by the same user on the same poll yields
	// ErrAlreadyVoted and changes nothing.
	CastVote(ctx context.Context, vote *domain.Vote) error
	HasVoted(ctx context.Context, pollID, userID uuid.UUID) (bool, error)
	SetClosed(ctx context.Context, pollID uuid.UUID, closed bool) error
	// ClearVotes removes every vote for the poll and zeroes the tallies in
	// one transaction, used when a poll is restarted.
	ClearVotes(ctx context.Context, pollID uuid.UUID) error
}
