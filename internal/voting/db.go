package voting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"ms-tokenomy/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

var ErrDuplicateBallot = errors.New("ballot already cast")

func (d *DB) CreateVote(ctx context.Context, vote *models.Vote, options []models.VoteOption) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(vote).Exec(ctx); err != nil {
			return &models.PersistenceError{Op: "create vote", Err: err}
		}
		if _, err := tx.NewInsert().Model(&options).Exec(ctx); err != nil {
			return &models.PersistenceError{Op: "create vote options", Err: err}
		}
		return nil
	})
}

func (d *DB) GetVoteByID(ctx context.Context, voteID string) (*models.Vote, error) {
	vote := new(models.Vote)
	err := d.Bun.NewSelect().Model(vote).Where("id = ?", voteID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vote %s", models.ErrNotFound, voteID)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get vote", Err: err}
	}
	return vote, nil
}

func (d *DB) ListVotes(ctx context.Context) ([]models.Vote, error) {
	var votes []models.Vote
	err := d.Bun.NewSelect().Model(&votes).Order("start_at DESC").Scan(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list votes", Err: err}
	}
	return votes, nil
}

func (d *DB) UpdateVote(ctx context.Context, vote *models.Vote) error {
	res, err := d.Bun.NewUpdate().Model(vote).WherePK().Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "update vote", Err: err}
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: vote %s", models.ErrNotFound, vote.ID)
	}
	return nil
}

func (d *DB) GetOptions(ctx context.Context, voteID string) ([]models.VoteOption, error) {
	var options []models.VoteOption
	err := d.Bun.NewSelect().
		Model(&options).
		Where("vote_id = ?", voteID).
		Order("label ASC").
		Scan(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "get vote options", Err: err}
	}
	return options, nil
}

func (d *DB) GetOption(ctx context.Context, voteID, optionID string) (*models.VoteOption, error) {
	option := new(models.VoteOption)
	err := d.Bun.NewSelect().
		Model(option).
		Where("id = ?", optionID).
		Where("vote_id = ?", voteID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: option %s is not part of vote %s", models.ErrOptionNotInVote, optionID, voteID)
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get vote option", Err: err}
	}
	return option, nil
}

func (d *DB) DeleteOption(ctx context.Context, voteID, optionID string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.VoteOption)(nil)).
		Where("id = ?", optionID).
		Where("vote_id = ?", voteID).
		Exec(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "delete vote option", Err: err}
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: option %s", models.ErrNotFound, optionID)
	}
	return nil
}

// CreateBallot inserts the voter's ballot. The (vote_id, user_id) unique
// index turns a double-cast into ErrDuplicateBallot.
func (d *DB) CreateBallot(ctx context.Context, ballot *models.VoteBallot) error {
	_, err := d.Bun.NewInsert().Model(ballot).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateBallot
		}
		return &models.PersistenceError{Op: "create ballot", Err: err}
	}
	return nil
}

func (d *DB) GetBallot(ctx context.Context, voteID, userID string) (*models.VoteBallot, error) {
	ballot := new(models.VoteBallot)
	err := d.Bun.NewSelect().
		Model(ballot).
		Where("vote_id = ?", voteID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get ballot", Err: err}
	}
	return ballot, nil
}

func (d *DB) CountBallots(ctx context.Context, voteID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.VoteBallot)(nil)).
		Where("vote_id = ?", voteID).
		Count(ctx)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count ballots", Err: err}
	}
	return count, nil
}

func (d *DB) CountBallotsForOption(ctx context.Context, voteID, optionID string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.VoteBallot)(nil)).
		Where("vote_id = ?", voteID).
		Where("option_id = ?", optionID).
		Count(ctx)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count ballots for option", Err: err}
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
