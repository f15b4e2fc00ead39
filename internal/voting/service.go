package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
)

type Service struct {
	DB     *DB
	Logger *logger.Logger
}

func NewService(database *DB, log *logger.Logger) *Service {
	return &Service{DB: database, Logger: log}
}

// VoteRequest is the admin payload for scheduling a vote.
type VoteRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Options     []string  `json:"options"`
}

// CreateVote schedules a vote with its options. At least two options are
// required; a one-option vote cannot express a choice.
func (s *Service) CreateVote(ctx context.Context, req VoteRequest) (*models.Vote, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: vote title is required", models.ErrValidation)
	}
	if !req.EndAt.After(req.StartAt) {
		return nil, fmt.Errorf("%w: vote window must end after it starts", models.ErrValidation)
	}
	if len(req.Options) < 2 {
		return nil, fmt.Errorf("%w: a vote needs at least two options", models.ErrValidation)
	}
	seen := make(map[string]bool, len(req.Options))
	for _, label := range req.Options {
		if label == "" {
			return nil, fmt.Errorf("%w: option labels cannot be empty", models.ErrValidation)
		}
		if seen[label] {
			return nil, fmt.Errorf("%w: duplicate option label %q", models.ErrValidation, label)
		}
		seen[label] = true
	}

	vote := &models.Vote{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		StartAt:     req.StartAt.UTC(),
		EndAt:       req.EndAt.UTC(),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	options := make([]models.VoteOption, 0, len(req.Options))
	for _, label := range req.Options {
		options = append(options, models.VoteOption{
			ID:     uuid.New().String(),
			VoteID: vote.ID,
			Label:  label,
		})
	}

	if err := s.DB.CreateVote(ctx, vote, options); err != nil {
		return nil, err
	}

	s.logVote("CREATE", vote.ID, fmt.Sprintf("%q with %d options", vote.Title, len(options)))
	return vote, nil
}

func (s *Service) GetVote(ctx context.Context, voteID string) (*models.Vote, []models.VoteOption, error) {
	vote, err := s.DB.GetVoteByID(ctx, voteID)
	if err != nil {
		return nil, nil, err
	}
	options, err := s.DB.GetOptions(ctx, voteID)
	if err != nil {
		return nil, nil, err
	}
	return vote, options, nil
}

func (s *Service) ListVotes(ctx context.Context) ([]models.Vote, error) {
	return s.DB.ListVotes(ctx)
}

// CastBallot records the voter's choice. One ballot per voter per vote; a
// second cast fails with ErrAlreadyVoted no matter which option it names.
func (s *Service) CastBallot(ctx context.Context, voteID, userID, optionID string) (*models.VoteBallot, error) {
	if voteID == "" || userID == "" || optionID == "" {
		return nil, fmt.Errorf("%w: vote id, user id and option id are required", models.ErrValidation)
	}

	vote, err := s.DB.GetVoteByID(ctx, voteID)
	if err != nil {
		return nil, err
	}
	if !vote.Active {
		return nil, fmt.Errorf("%w: vote %s is deactivated", models.ErrInvalidState, voteID)
	}
	now := time.Now().UTC()
	switch vote.WindowState(now) {
	case models.VoteScheduled:
		return nil, fmt.Errorf("%w: vote %s has not opened yet", models.ErrInvalidState, voteID)
	case models.VoteClosed:
		return nil, fmt.Errorf("%w: vote %s has closed", models.ErrInvalidState, voteID)
	}

	if _, err := s.DB.GetOption(ctx, voteID, optionID); err != nil {
		return nil, err
	}

	// Answer obvious repeats without an insert attempt. The unique
	// (vote_id, user_id) index stays the arbiter for concurrent casts.
	if prior, err := s.DB.GetBallot(ctx, voteID, userID); err != nil {
		return nil, err
	} else if prior != nil {
		return nil, fmt.Errorf("%w: user %s already voted in %s", models.ErrAlreadyVoted, userID, voteID)
	}

	ballot := &models.VoteBallot{
		ID:       uuid.New().String(),
		VoteID:   voteID,
		UserID:   userID,
		OptionID: optionID,
		CastAt:   now,
	}
	if err := s.DB.CreateBallot(ctx, ballot); err != nil {
		if errors.Is(err, ErrDuplicateBallot) {
			return nil, fmt.Errorf("%w: user %s already voted in %s", models.ErrAlreadyVoted, userID, voteID)
		}
		return nil, err
	}

	s.logVote("BALLOT", voteID, fmt.Sprintf("Cast by user %s", userID))
	return ballot, nil
}

// Results tallies the vote. Percentages are zero across the board when no
// ballots were cast.
func (s *Service) Results(ctx context.Context, voteID string) (*models.VoteResults, error) {
	vote, err := s.DB.GetVoteByID(ctx, voteID)
	if err != nil {
		return nil, err
	}
	options, err := s.DB.GetOptions(ctx, voteID)
	if err != nil {
		return nil, err
	}
	total, err := s.DB.CountBallots(ctx, voteID)
	if err != nil {
		return nil, err
	}

	results := &models.VoteResults{
		VoteID:     voteID,
		State:      s.stateOf(vote),
		TotalVotes: total,
		Options:    make([]models.OptionResult, 0, len(options)),
	}
	for _, option := range options {
		count, err := s.DB.CountBallotsForOption(ctx, voteID, option.ID)
		if err != nil {
			return nil, err
		}
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		results.Options = append(results.Options, models.OptionResult{
			OptionID:   option.ID,
			Label:      option.Label,
			Votes:      count,
			Percentage: pct,
		})
	}
	return results, nil
}

// RemoveOption deletes an option from a vote that has received no ballots.
// Once a single ballot exists the option set is frozen.
func (s *Service) RemoveOption(ctx context.Context, voteID, optionID string) error {
	total, err := s.DB.CountBallots(ctx, voteID)
	if err != nil {
		return err
	}
	if total > 0 {
		return fmt.Errorf("%w: vote %s has ballots, options are frozen", models.ErrInvalidState, voteID)
	}

	options, err := s.DB.GetOptions(ctx, voteID)
	if err != nil {
		return err
	}
	if len(options) <= 2 {
		return fmt.Errorf("%w: a vote needs at least two options", models.ErrInvalidState)
	}

	return s.DB.DeleteOption(ctx, voteID, optionID)
}

// CloseVote deactivates a vote ahead of its scheduled end.
func (s *Service) CloseVote(ctx context.Context, voteID string) (*models.Vote, error) {
	vote, err := s.DB.GetVoteByID(ctx, voteID)
	if err != nil {
		return nil, err
	}
	if !vote.Active {
		return vote, nil
	}
	vote.Active = false
	if err := s.DB.UpdateVote(ctx, vote); err != nil {
		return nil, err
	}
	s.logVote("CLOSE", voteID, "Closed ahead of schedule")
	return vote, nil
}

func (s *Service) stateOf(vote *models.Vote) string {
	if !vote.Active {
		return models.VoteClosed
	}
	return vote.WindowState(time.Now().UTC())
}

func (s *Service) logVote(action, voteID, msg string) {
	if s.Logger != nil {
		s.Logger.LogVote(action, voteID, msg)
	}
}
