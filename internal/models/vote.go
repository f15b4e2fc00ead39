package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Vote window states derived from the clock. The admin Active flag overrides
// the window: a deactivated vote accepts no ballots regardless of time.
const (
	VoteScheduled = "scheduled"
	VoteActive    = "active"
	VoteClosed    = "closed"
)

type Vote struct {
	bun.BaseModel `bun:"table:votes"`

	ID          string    `bun:"id,pk" json:"id"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description string    `bun:"description,nullzero" json:"description,omitempty"`
	StartAt     time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt       time.Time `bun:"end_at,notnull" json:"end_at"`
	Active      bool      `bun:"active,notnull" json:"active"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

// WindowState returns the time-derived state of the vote at the given instant.
func (v *Vote) WindowState(now time.Time) string {
	switch {
	case now.Before(v.StartAt):
		return VoteScheduled
	case now.After(v.EndAt):
		return VoteClosed
	default:
		return VoteActive
	}
}

type VoteOption struct {
	bun.BaseModel `bun:"table:vote_options"`

	ID     string `bun:"id,pk" json:"id"`
	VoteID string `bun:"vote_id,notnull" json:"vote_id"`
	Label  string `bun:"label,notnull" json:"label"`
}

// VoteBallot records a single voter's choice. The (vote_id, user_id) unique
// index is what makes concurrent double-casts impossible.
type VoteBallot struct {
	bun.BaseModel `bun:"table:vote_ballots"`

	ID       string    `bun:"id,pk" json:"id"`
	VoteID   string    `bun:"vote_id,notnull,unique:one_ballot_per_voter" json:"vote_id"`
	UserID   string    `bun:"user_id,notnull,unique:one_ballot_per_voter" json:"user_id"`
	OptionID string    `bun:"option_id,notnull" json:"option_id"`
	CastAt   time.Time `bun:"cast_at,notnull" json:"cast_at"`
}

type OptionResult struct {
	OptionID   string  `json:"option_id"`
	Label      string  `json:"label"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

type VoteResults struct {
	VoteID     string         `json:"vote_id"`
	State      string         `json:"state"`
	TotalVotes int            `json:"total_votes"`
	Options    []OptionResult `json:"options"`
}
