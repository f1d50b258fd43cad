package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/repository"
)

const createPollsSchema = `
CREATE TABLE IF NOT EXISTS polls (
	id TEXT PRIMARY KEY,
	creator_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	closed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(creator_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS poll_options (
	id TEXT PRIMARY KEY,
	poll_id TEXT NOT NULL,
	option_text TEXT NOT NULL,
	votes INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(poll_id) REFERENCES polls(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS votes (
	id TEXT PRIMARY KEY,
	poll_id TEXT NOT NULL,
	option_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(poll_id, user_id),
	FOREIGN KEY(poll_id) REFERENCES polls(id) ON DELETE CASCADE,
	FOREIGN KEY(option_id) REFERENCES poll_options(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_poll_options_poll_id ON poll_options(poll_id);
CREATE INDEX IF NOT EXISTS idx_votes_poll_id ON votes(poll_id);
`

type PollRepository struct {
	db *sql.DB
}

func NewPollRepository(db *sql.DB) repository.PollRepository {
	return &PollRepository{db: db}
}

func (r *PollRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPollsSchema); err != nil {
		return fmt.Errorf("create polls schema: %w", err)
	}
	return nil
}

func (r *PollRepository) CreatePoll(ctx context.Context, poll *domain.Poll) error {
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `
INSERT INTO polls (id, creator_id, title, description, closed, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		poll.ID.String(),
		poll.CreatorID.String(),
		poll.Title,
		poll.Description,
		poll.Closed,
		poll.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}

	for _, opt := range poll.Options {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO poll_options (id, poll_id, option_text, votes)
VALUES (?, ?, ?, ?)`,
			opt.ID.String(),
			poll.ID.String(),
			opt.Text,
			opt.Votes,
		); err != nil {
			return fmt.Errorf("insert poll option: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PollRepository) GetPoll(ctx context.Context, id uuid.UUID) (*domain.Poll, error) {
	poll, err := scanPoll(r.db.QueryRowContext(ctx, `
SELECT id, creator_id, title, description, closed, created_at
FROM polls
WHERE id = ?`, id.String()))
	if err != nil {
		return nil, err
	}
	options, err := r.ListOptions(ctx, poll.ID)
	if err != nil {
		return nil, err
	}
	poll.Options = options
	return poll, nil
}

func (r *PollRepository) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, creator_id, title, description, closed, created_at
FROM polls
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	defer rows.Close()

	var polls []domain.Poll
	for rows.Next() {
		var (
			poll              domain.Poll
			rawID, rawCreator string
		)
		if err := rows.Scan(&rawID, &rawCreator, &poll.Title, &poll.Description, &poll.Closed, &poll.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		if poll.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse poll id: %w", err)
		}
		if poll.CreatorID, err = uuid.Parse(rawCreator); err != nil {
			return nil, fmt.Errorf("parse poll creator id: %w", err)
		}
		polls = append(polls, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range polls {
		options, err := r.ListOptions(ctx, polls[i].ID)
		if err != nil {
			return nil, err
		}
		polls[i].Options = options
	}
	return polls, nil
}

func (r *PollRepository) ListOptions(ctx context.Context, pollID uuid.UUID) ([]domain.PollOption, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, poll_id, option_text, votes
FROM poll_options
WHERE poll_id = ?
ORDER BY option_text ASC`, pollID.String())
	if err != nil {
		return nil, fmt.Errorf("query poll options: %w", err)
	}
	defer rows.Close()

	var options []domain.PollOption
	for rows.Next() {
		var (
			opt            domain.PollOption
			rawID, rawPoll string
		)
		if err := rows.Scan(&rawID, &rawPoll, &opt.Text, &opt.Votes); err != nil {
			return nil, fmt.Errorf("scan poll option: %w", err)
		}
		if opt.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse option id: %w", err)
		}
		if opt.PollID, err = uuid.Parse(rawPoll); err != nil {
			return nil, fmt.Errorf("parse option poll id: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

func (r *PollRepository) CastVote(ctx context.Context, vote *domain.Vote) error {
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `
INSERT INTO votes (id, poll_id, option_id, user_id, created_at)
VALUES (?, ?, ?, ?, ?)`,
		vote.ID.String(),
		vote.PollID.String(),
		vote.OptionID.String(),
		vote.UserID.String(),
		vote.CreatedAt,
	); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return repository.ErrAlreadyVoted
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE poll_options SET votes = votes + 1 WHERE id = ?`, vote.OptionID.String()); err != nil {
		return fmt.Errorf("increment option tally: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PollRepository) HasVoted(ctx context.Context, pollID, userID uuid.UUID) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
SELECT id FROM votes WHERE poll_id = ? AND user_id = ?`,
		pollID.String(), userID.String()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query vote: %w", err)
	}
	return true, nil
}

func (r *PollRepository) SetClosed(ctx context.Context, pollID uuid.UUID, closed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE polls SET closed = ? WHERE id = ?`, closed, pollID.String())
	if err != nil {
		return fmt.Errorf("update poll closed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("poll rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PollRepository) ClearVotes(ctx context.Context, pollID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE poll_id = ?`, pollID.String()); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE poll_options SET votes = 0 WHERE poll_id = ?`, pollID.String()); err != nil {
		return fmt.Errorf("reset option tallies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanPoll(row *sql.Row) (*domain.Poll, error) {
	var (
		poll              domain.Poll
		rawID, rawCreator string
	)
	if err := row.Scan(&rawID, &rawCreator, &poll.Title, &poll.Description, &poll.Closed, &poll.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan poll: %w", err)
	}
	var err error
	if poll.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse poll id: %w", err)
	}
	if poll.CreatorID, err = uuid.Parse(rawCreator); err != nil {
		return nil, fmt.Errorf("parse poll creator id: %w", err)
	}
	return &poll, nil
}
