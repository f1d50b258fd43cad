package domain

import (
	"time"

	"github.com/google/uuid"
)

// Poll is a question with a fixed option list. Closed polls reject votes.
type Poll struct {
	ID          uuid.UUID
	CreatorID   uuid.UUID
	Title       string
	Description string
	Closed      bool
	CreatedAt   time.Time
	Options     []PollOption
}

// PollOption is one choice within a poll with its running tally.
type PollOption struct {
	ID     uuid.UUID
	PollID uuid.UUID
	Text   string
	Votes  int64
}

// Vote records that a user picked an option. At most one vote per user per
// poll is accepted.
type Vote struct {
	ID        uuid.UUID
	PollID    uuid.UUID
	OptionID  uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
}

// TotalVotes sums the tallies across all options.
func (p Poll) TotalVotes() int64 {
	var total int64
	for _, opt := range p.Options {
		total += opt.Votes
	}
	return total
}
