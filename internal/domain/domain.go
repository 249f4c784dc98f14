package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotParticipant        = errors.New("user is not a participant")
	ErrAlreadyParticipant    = errors.New("user is already a participant")
	ErrNotEnoughParticipants = errors.New("at least 2 participants required")
	ErrSelfRestriction       = errors.New("cannot restrict yourself")
	ErrRestrictionExists     = errors.New("restriction already exists")
	ErrRestrictionNotFound   = errors.New("restriction not found")
	ErrNotRestrictionOwner   = errors.New("only the creator or an admin can remove a restriction")
	ErrSelfComment           = errors.New("cannot comment on yourself")
	ErrGameStarted           = errors.New("game already started")
	ErrNotGenerated          = errors.New("assignments have not been generated")
)

type Participant struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// DisplayName is "Full Name (@username)", or whichever part is known.
func (p *Participant) DisplayName() string {
	switch {
	case p.Username == "":
		return p.FullName
	case p.FullName == "":
		return "@" + p.Username
	default:
		return p.FullName + " (@" + p.Username + ")"
	}
}

// Restriction forbids UserID from drawing ForbiddenUserID.
type Restriction struct {
	UserID          int64
	ForbiddenUserID int64
	CreatorID       int64
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusGenerated Status = "generated"
	StatusStarted   Status = "started"
)

type GameState struct {
	Status      Status
	Round       string
	GeneratedAt time.Time
}

type StorageInterface interface {
	SaveParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, userID int64) (*Participant, error)
	GetAllParticipants(ctx context.Context) (map[int64]*Participant, error)
	DeleteParticipant(ctx context.Context, userID int64) error
	SaveKnownUser(ctx context.Context, u *Participant) error
	FindKnownUser(ctx context.Context, username string) (*Participant, error)
	SaveRestriction(ctx context.Context, r Restriction) error
	GetRestriction(ctx context.Context, userID, forbiddenUserID int64) (*Restriction, error)
	GetAllRestrictions(ctx context.Context) ([]Restriction, error)
	DeleteRestriction(ctx context.Context, userID, forbiddenUserID int64) error
	DeleteAllRestrictionsForUser(ctx context.Context, userID int64) error
	ReplaceAssignments(ctx context.Context, assignments map[int64]int64) error
	GetAssignment(ctx context.Context, giverID int64) (int64, error)
	GetAllAssignments(ctx context.Context) (map[int64]int64, error)
	DeleteAllAssignments(ctx context.Context) error
	SaveGameState(ctx context.Context, state GameState) error
	GetGameState(ctx context.Context) (GameState, error)
	SaveWish(ctx context.Context, userID int64, wish string) error
	GetWish(ctx context.Context, userID int64) (string, error)
	DeleteWish(ctx context.Context, userID int64) error
	SaveComment(ctx context.Context, receiverID, authorID int64, comment string) error
	GetComments(ctx context.Context, receiverID int64) (map[int64]string, error)
	DeleteCommentsFor(ctx context.Context, userID int64) error
	ClearAll(ctx context.Context) error
	Close() error
}
