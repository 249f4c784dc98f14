//go:generate go run go.uber.org/mock/mockgen -source=game.go -destination=../mocks/mock_notifier.go -package=mocks
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"telegram-secret-santa/internal/domain"
	"telegram-secret-santa/internal/draw"
	"telegram-secret-santa/internal/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Notifier delivers a private message to a participant.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Game holds the use cases of a single Secret Santa game.
type Game struct {
	storage  domain.StorageInterface
	log      *logger.Logger
	drawOpts draw.Options
	now      func() time.Time
}

func NewGame(storage domain.StorageInterface, log *logger.Logger, drawOpts draw.Options) *Game {
	return &Game{
		storage:  storage,
		log:      log.With("component", "game"),
		drawOpts: drawOpts,
		now:      time.Now,
	}
}

type StatusReport struct {
	State        domain.GameState
	Participants int
	Restrictions int
	Assignments  int
}

type StartReport struct {
	Sent   int
	Failed int
}

// RememberUser records a user the bot has seen and refreshes the name of an
// existing participant.
func (g *Game) RememberUser(ctx context.Context, u *domain.Participant) error {
	if err := g.storage.SaveKnownUser(ctx, u); err != nil {
		return err
	}
	existing, err := g.storage.GetParticipant(ctx, u.UserID)
	if err != nil || existing == nil {
		return err
	}
	if existing.Username == u.Username && existing.FullName == u.FullName {
		return nil
	}
	g.log.Debug("participant renamed", "user_id", u.UserID, "username", u.Username)
	return g.storage.SaveParticipant(ctx, u)
}

func (g *Game) FindKnownUser(ctx context.Context, username string) (*domain.Participant, error) {
	return g.storage.FindKnownUser(ctx, username)
}

func (g *Game) Join(ctx context.Context, p *domain.Participant) error {
	if err := g.ensureNotStarted(ctx); err != nil {
		return err
	}
	existing, err := g.storage.GetParticipant(ctx, p.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.ErrAlreadyParticipant
	}
	if err := g.storage.SaveParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to save participant: %w", err)
	}
	g.log.Info("participant joined", "user_id", p.UserID, "username", p.Username)
	return g.discardDraw(ctx)
}

// Leave removes the participant together with their restrictions (both
// directions), comments and wish.
func (g *Game) Leave(ctx context.Context, userID int64) error {
	if err := g.ensureNotStarted(ctx); err != nil {
		return err
	}
	if _, err := g.participant(ctx, userID); err != nil {
		return err
	}

	if err := g.storage.DeleteParticipant(ctx, userID); err != nil {
		return err
	}
	if err := g.storage.DeleteAllRestrictionsForUser(ctx, userID); err != nil {
		return err
	}
	if err := g.storage.DeleteCommentsFor(ctx, userID); err != nil {
		return err
	}
	if err := g.storage.DeleteWish(ctx, userID); err != nil {
		return err
	}
	g.log.Info("participant left", "user_id", userID)
	return g.discardDraw(ctx)
}

// Participants returns the roster ordered by name.
func (g *Game) Participants(ctx context.Context) ([]*domain.Participant, error) {
	all, err := g.storage.GetAllParticipants(ctx)
	if err != nil {
		return nil, err
	}
	list := lo.Values(all)
	sort.Slice(list, func(i, j int) bool {
		a, b := strings.ToLower(list[i].FullName), strings.ToLower(list[j].FullName)
		if a != b {
			return a < b
		}
		return list[i].UserID < list[j].UserID
	})
	return list, nil
}

// FindParticipant looks a participant up by username, case-insensitively.
func (g *Game) FindParticipant(ctx context.Context, username string) (*domain.Participant, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	all, err := g.storage.GetAllParticipants(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := lo.Find(lo.Values(all), func(p *domain.Participant) bool {
		return p.Username != "" && strings.EqualFold(p.Username, username)
	})
	if !ok {
		return nil, domain.ErrNotParticipant
	}
	return p, nil
}

// AddRestriction stores "userID will not draw forbiddenUserID". A restriction
// that would leave no valid draw is rejected with a *draw.UnsolvableError.
func (g *Game) AddRestriction(ctx context.Context, userID, forbiddenUserID, creatorID int64) error {
	if err := g.ensureNotStarted(ctx); err != nil {
		return err
	}
	if userID == forbiddenUserID {
		return domain.ErrSelfRestriction
	}
	if _, err := g.participant(ctx, userID); err != nil {
		return err
	}
	if _, err := g.participant(ctx, forbiddenUserID); err != nil {
		return err
	}
	existing, err := g.storage.GetRestriction(ctx, userID, forbiddenUserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.ErrRestrictionExists
	}

	r := domain.Restriction{UserID: userID, ForbiddenUserID: forbiddenUserID, CreatorID: creatorID}
	ids, exclusions, err := g.drawInput(ctx)
	if err != nil {
		return err
	}
	exclusions = append(exclusions, draw.Exclusion{Giver: userID, Receiver: forbiddenUserID})
	if len(ids) >= 2 {
		if err := draw.Feasible(ids, exclusions, g.drawOpts); err != nil {
			g.log.Info("restriction rejected", "user_id", userID, "forbidden_user_id", forbiddenUserID, "error", err)
			return err
		}
	}

	if err := g.storage.SaveRestriction(ctx, r); err != nil {
		return err
	}
	g.log.Info("restriction added", "user_id", userID, "forbidden_user_id", forbiddenUserID, "creator_id", creatorID)
	return g.discardDraw(ctx)
}

// RemoveRestriction deletes a restriction; only its creator or an admin may.
func (g *Game) RemoveRestriction(ctx context.Context, userID, forbiddenUserID, requesterID int64, isAdmin bool) error {
	if err := g.ensureNotStarted(ctx); err != nil {
		return err
	}
	r, err := g.storage.GetRestriction(ctx, userID, forbiddenUserID)
	if err != nil {
		return err
	}
	if r == nil {
		return domain.ErrRestrictionNotFound
	}
	if !isAdmin && r.CreatorID != requesterID {
		return domain.ErrNotRestrictionOwner
	}
	if err := g.storage.DeleteRestriction(ctx, userID, forbiddenUserID); err != nil {
		return err
	}
	g.log.Info("restriction removed", "user_id", userID, "forbidden_user_id", forbiddenUserID, "requester_id", requesterID)
	return g.discardDraw(ctx)
}

func (g *Game) Restrictions(ctx context.Context) ([]domain.Restriction, error) {
	return g.storage.GetAllRestrictions(ctx)
}

// Generate draws and stores a new assignment, replacing any previous one.
func (g *Game) Generate(ctx context.Context) (draw.Assignment, error) {
	if err := g.ensureNotStarted(ctx); err != nil {
		return nil, err
	}
	ids, exclusions, err := g.drawInput(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) < 2 {
		return nil, domain.ErrNotEnoughParticipants
	}

	assignment, err := draw.Assign(ids, exclusions, g.drawOpts)
	if err != nil {
		g.log.Warn("draw failed", "participants", len(ids), "restrictions", len(exclusions), "error", err)
		return nil, err
	}
	if err := draw.Validate(ids, exclusions, assignment, g.drawOpts); err != nil {
		return nil, fmt.Errorf("draw produced an invalid assignment: %w", err)
	}

	if err := g.storage.ReplaceAssignments(ctx, assignment); err != nil {
		return nil, err
	}
	state := domain.GameState{Status: domain.StatusGenerated, Round: uuid.NewString(), GeneratedAt: g.now()}
	if err := g.storage.SaveGameState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save game state: %w", err)
	}

	g.log.Info("assignments generated", "round", state.Round, "participants", len(ids), "restrictions", len(exclusions))
	for _, pair := range assignment.Pairs() {
		g.log.Debug("assignment", "round", state.Round, "giver", pair.Giver, "receiver", pair.Receiver)
	}
	return assignment, nil
}

// Start marks the game as started and then sends every giver their
// receiver. Nothing is sent when the state cannot be saved.
func (g *Game) Start(ctx context.Context, notifier Notifier) (StartReport, error) {
	state, err := g.storage.GetGameState(ctx)
	if err != nil {
		return StartReport{}, err
	}
	switch state.Status {
	case domain.StatusStarted:
		return StartReport{}, domain.ErrGameStarted
	case domain.StatusGenerated:
	default:
		return StartReport{}, domain.ErrNotGenerated
	}

	assignments, err := g.storage.GetAllAssignments(ctx)
	if err != nil {
		return StartReport{}, err
	}
	if len(assignments) == 0 {
		return StartReport{}, domain.ErrNotGenerated
	}

	state.Status = domain.StatusStarted
	if err := g.storage.SaveGameState(ctx, state); err != nil {
		return StartReport{}, fmt.Errorf("failed to save game state: %w", err)
	}

	var report StartReport
	givers := lo.Keys(assignments)
	sort.Slice(givers, func(i, j int) bool { return givers[i] < givers[j] })
	for _, giverID := range givers {
		text, err := g.AssignmentMessage(ctx, giverID)
		if err == nil {
			err = notifier.Notify(ctx, giverID, text)
		}
		if err != nil {
			g.log.Warn("assignment not delivered", "round", state.Round, "giver", giverID, "error", err)
			report.Failed++
			continue
		}
		report.Sent++
	}

	g.log.Info("game started", "round", state.Round, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// AssignmentMessage renders what a giver needs to know: the receiver, their
// wish and the hints other participants left for them.
func (g *Game) AssignmentMessage(ctx context.Context, giverID int64) (string, error) {
	receiverID, err := g.storage.GetAssignment(ctx, giverID)
	if err != nil {
		return "", err
	}
	if receiverID == 0 {
		return "", domain.ErrNotGenerated
	}
	participants, err := g.storage.GetAllParticipants(ctx)
	if err != nil {
		return "", err
	}
	receiver, ok := participants[receiverID]
	if !ok {
		return "", fmt.Errorf("receiver %d: %w", receiverID, domain.ErrNotParticipant)
	}
	wish, err := g.storage.GetWish(ctx, receiverID)
	if err != nil {
		return "", err
	}
	comments, err := g.storage.GetComments(ctx, receiverID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("🎅 Тайный Санта назначен!\n\n")
	b.WriteString("Вы дарите подарок: " + receiver.DisplayName())
	if wish != "" {
		b.WriteString("\n\n💝 Желание получателя:\n" + wish)
	}
	if len(comments) > 0 {
		b.WriteString("\n\n💬 Комментарии от участников:")
		authors := lo.Keys(comments)
		sort.Slice(authors, func(i, j int) bool { return authors[i] < authors[j] })
		for _, authorID := range authors {
			name := fmt.Sprintf("Участник (ID: %d)", authorID)
			if author, ok := participants[authorID]; ok {
				name = author.DisplayName()
			}
			b.WriteString(fmt.Sprintf("\n\n👤 %s:\n%s", name, comments[authorID]))
		}
	}
	return b.String(), nil
}

func (g *Game) Status(ctx context.Context) (StatusReport, error) {
	state, err := g.storage.GetGameState(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	participants, err := g.storage.GetAllParticipants(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	restrictions, err := g.storage.GetAllRestrictions(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	assignments, err := g.storage.GetAllAssignments(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		State:        state,
		Participants: len(participants),
		Restrictions: len(restrictions),
		Assignments:  len(assignments),
	}, nil
}

func (g *Game) Reset(ctx context.Context) error {
	if err := g.storage.ClearAll(ctx); err != nil {
		return err
	}
	g.log.Info("game reset")
	return nil
}

func (g *Game) SetWish(ctx context.Context, userID int64, wish string) error {
	if _, err := g.participant(ctx, userID); err != nil {
		return err
	}
	if err := g.storage.SaveWish(ctx, userID, wish); err != nil {
		return fmt.Errorf("failed to save wish: %w", err)
	}
	g.log.Debug("wish saved", "user_id", userID, "length", len([]rune(wish)))
	return nil
}

func (g *Game) Wish(ctx context.Context, userID int64) (string, error) {
	if _, err := g.participant(ctx, userID); err != nil {
		return "", err
	}
	return g.storage.GetWish(ctx, userID)
}

func (g *Game) DeleteWish(ctx context.Context, userID int64) error {
	if _, err := g.participant(ctx, userID); err != nil {
		return err
	}
	return g.storage.DeleteWish(ctx, userID)
}

// AddComment leaves a hint for whoever draws receiverID.
func (g *Game) AddComment(ctx context.Context, authorID, receiverID int64, comment string) error {
	if authorID == receiverID {
		return domain.ErrSelfComment
	}
	if _, err := g.participant(ctx, receiverID); err != nil {
		return err
	}
	if err := g.storage.SaveComment(ctx, receiverID, authorID, comment); err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}
	g.log.Debug("comment saved", "author_id", authorID, "receiver_id", receiverID)
	return nil
}

func (g *Game) participant(ctx context.Context, userID int64) (*domain.Participant, error) {
	p, err := g.storage.GetParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotParticipant
	}
	return p, nil
}

func (g *Game) ensureNotStarted(ctx context.Context) error {
	state, err := g.storage.GetGameState(ctx)
	if err != nil {
		return err
	}
	if state.Status == domain.StatusStarted {
		return domain.ErrGameStarted
	}
	return nil
}

// discardDraw drops generated assignments after the roster or restrictions
// changed, since they may no longer be valid.
func (g *Game) discardDraw(ctx context.Context) error {
	state, err := g.storage.GetGameState(ctx)
	if err != nil {
		return err
	}
	if state.Status != domain.StatusGenerated {
		return nil
	}
	if err := g.storage.DeleteAllAssignments(ctx); err != nil {
		return err
	}
	g.log.Info("generated assignments discarded", "round", state.Round)
	return g.storage.SaveGameState(ctx, domain.GameState{Status: domain.StatusOpen})
}

// drawInput loads participant ids and the restrictions between them.
func (g *Game) drawInput(ctx context.Context) ([]int64, []draw.Exclusion, error) {
	participants, err := g.storage.GetAllParticipants(ctx)
	if err != nil {
		return nil, nil, err
	}
	restrictions, err := g.storage.GetAllRestrictions(ctx)
	if err != nil {
		return nil, nil, err
	}

	ids := lo.Keys(participants)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	exclusions := lo.FilterMap(restrictions, func(r domain.Restriction, _ int) (draw.Exclusion, bool) {
		_, giver := participants[r.UserID]
		_, receiver := participants[r.ForbiddenUserID]
		return draw.Exclusion{Giver: r.UserID, Receiver: r.ForbiddenUserID}, giver && receiver
	})
	return ids, exclusions, nil
}

// IsUnsolvable extracts draw diagnostics from an error.
func IsUnsolvable(err error) (*draw.UnsolvableError, bool) {
	var unsolvable *draw.UnsolvableError
	if errors.As(err, &unsolvable) {
		return unsolvable, true
	}
	return nil, false
}
