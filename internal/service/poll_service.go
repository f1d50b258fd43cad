package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

var (
	// ErrInvalidPoll indicates the poll definition failed validation.
	ErrInvalidPoll = errors.New("invalid poll")
	// ErrPollNotFound indicates the poll does not exist.
	ErrPollNotFound = errors.New("poll not found")
	// ErrOptionNotFound indicates the option does not belong to the poll.
	ErrOptionNotFound = errors.New("poll option not found")
	// ErrPollClosed indicates the poll no longer accepts votes.
	ErrPollClosed = errors.New("poll is closed")
	// ErrAlreadyVoted indicates the user already voted on this poll.
	ErrAlreadyVoted = errors.New("user already voted on this poll")
	// ErrNotCreator indicates an operation reserved for the poll's creator.
	ErrNotCreator = errors.New("only the poll creator may do this")
)

// PollService coordinates poll lifecycle and voting.
type PollService interface {
	CreatePoll(ctx context.Context, creatorID uuid.UUID, title, description string, options []string) (*domain.Poll, error)
	GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error)
	ListPolls(ctx context.Context) ([]domain.Poll, error)
	HasVoted(ctx context.Context, pollID, userID uuid.UUID) (bool, error)
	// CastVote records one vote and returns the option's new tally.
	CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (int64, error)
	ClosePoll(ctx context.Context, pollID, userID uuid.UUID) error
	// RestartPoll reopens a poll and clears its votes so counting starts over.
	RestartPoll(ctx context.Context, pollID, userID uuid.UUID) error
}

type pollService struct {
	polls repository.PollRepository
}

func NewPollService(polls repository.PollRepository) PollService {
	return &pollService{polls: polls}
}

func (s *pollService) CreatePoll(ctx context.Context, creatorID uuid.UUID, title, description string, options []string) (*domain.Poll, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidPoll)
	}
	if len(options) < 2 {
		return nil, fmt.Errorf("%w: a poll needs at least two options", ErrInvalidPoll)
	}

	poll := &domain.Poll{
		ID:          uuid.New(),
		CreatorID:   creatorID,
		Title:       title,
		Description: strings.TrimSpace(description),
	}
	for _, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: poll options must not be empty", ErrInvalidPoll)
		}
		poll.Options = append(poll.Options, domain.PollOption{
			ID:     uuid.New(),
			PollID: poll.ID,
			Text:   text,
		})
	}

	if err := s.polls.CreatePoll(ctx, poll); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	return poll, nil
}

func (s *pollService) GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	poll, err := s.polls.GetPoll(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	return poll, nil
}

func (s *pollService) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	return s.polls.ListPolls(ctx)
}

func (s *pollService) HasVoted(ctx context.Context, pollID, userID uuid.UUID) (bool, error) {
	return s.polls.HasVoted(ctx, pollID, userID)
}

func (s *pollService) CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (int64, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return 0, err
	}
	if poll.Closed {
		return 0, ErrPollClosed
	}

	found := false
	for _, opt := range poll.Options {
		if opt.ID == optionID {
			found = true
			break
		}
	}
	if !found {
		return 0, ErrOptionNotFound
	}

	vote := &domain.Vote{
		ID:       uuid.New(),
		PollID:   pollID,
		OptionID: optionID,
		UserID:   userID,
	}
	if err := s.polls.CastVote(ctx, vote); err != nil {
		if errors.Is(err, repository.ErrAlreadyVoted) {
			return 0, ErrAlreadyVoted
		}
		return 0, fmt.Errorf("cast vote: %w", err)
	}

	options, err := s.polls.ListOptions(ctx, pollID)
	if err != nil {
		return 0, fmt.Errorf("list options: %w", err)
	}
	for _, opt := range options {
		if opt.ID == optionID {
			return opt.Votes, nil
		}
	}
	return 0, ErrOptionNotFound
}

func (s *pollService) ClosePoll(ctx context.Context, pollID, userID uuid.UUID) error {
	if err := s.requireCreator(ctx, pollID, userID); err != nil {
		return err
	}
	return s.polls.SetClosed(ctx, pollID, true)
}

func (s *pollService) RestartPoll(ctx context.Context, pollID, userID uuid.UUID) error {
	if err := s.requireCreator(ctx, pollID, userID); err != nil {
		return err
	}
	if err := s.polls.ClearVotes(ctx, pollID); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	return s.polls.SetClosed(ctx, pollID, false)
}

func (s *pollService) requireCreator(ctx context.Context, pollID, userID uuid.UUID) error {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.CreatorID != userID {
		return ErrNotCreator
	}
	return nil
}
