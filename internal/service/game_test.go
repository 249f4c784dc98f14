package service

import (
	"context"
	"errors"
	"testing"

	"telegram-secret-santa/internal/domain"
	"telegram-secret-santa/internal/draw"
	"telegram-secret-santa/internal/logger"
	"telegram-secret-santa/internal/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	ivan  = &domain.Participant{UserID: 1, Username: "ivan", FullName: "Иван"}
	olga  = &domain.Participant{UserID: 2, Username: "olga", FullName: "Ольга"}
	petr  = &domain.Participant{UserID: 3, Username: "petr", FullName: "Пётр"}
	maria = &domain.Participant{UserID: 4, Username: "maria", FullName: "Мария"}
)

var errStateUnavailable = errors.New("READONLY You can't write against a read only replica.")

// failingStateStorage refuses to save one game status.
type failingStateStorage struct {
	*Storage
	failOn domain.Status
}

func (s *failingStateStorage) SaveGameState(ctx context.Context, state domain.GameState) error {
	if state.Status == s.failOn {
		return errStateUnavailable
	}
	return s.Storage.SaveGameState(ctx, state)
}

func newTestGame(t *testing.T, participants ...*domain.Participant) (*Game, *Storage) {
	t.Helper()
	s, _ := newTestStorage(t)
	g := NewGame(s, logger.NewNop(), draw.Options{})
	for _, p := range participants {
		require.NoError(t, g.Join(context.Background(), p))
	}
	return g, s
}

func TestGame_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a second join", func(t *testing.T) {
		g, _ := newTestGame(t, ivan)

		require.ErrorIs(t, g.Join(ctx, ivan), domain.ErrAlreadyParticipant)
	})

	t.Run("should discard generated assignments", func(t *testing.T) {
		req := require.New(t)
		g, s := newTestGame(t, ivan, olga, petr)
		_, err := g.Generate(ctx)
		req.NoError(err)

		req.NoError(g.Join(ctx, maria))

		status, err := g.Status(ctx)
		req.NoError(err)
		req.Equal(domain.StatusOpen, status.State.Status)
		req.Zero(status.Assignments)
		assignments, err := s.GetAllAssignments(ctx)
		req.NoError(err)
		req.Empty(assignments)
	})

	t.Run("should reject joining a started game", func(t *testing.T) {
		req := require.New(t)
		g, _ := newTestGame(t, ivan, olga)
		_, err := g.Generate(ctx)
		req.NoError(err)
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockNotifier(ctrl)
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
		_, err = g.Start(ctx, notifier)
		req.NoError(err)

		req.ErrorIs(g.Join(ctx, petr), domain.ErrGameStarted)
	})
}

func TestGame_Leave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g, s := newTestGame(t, ivan, olga, petr)
	req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))
	req.NoError(g.AddRestriction(ctx, olga.UserID, petr.UserID, olga.UserID))
	req.NoError(g.SetWish(ctx, olga.UserID, "шарф"))
	req.NoError(g.AddComment(ctx, ivan.UserID, olga.UserID, "любит синий"))
	req.NoError(g.AddComment(ctx, olga.UserID, petr.UserID, "любит кофе"))

	req.NoError(g.Leave(ctx, olga.UserID))

	restrictions, err := g.Restrictions(ctx)
	req.NoError(err)
	req.Empty(restrictions)
	wish, err := s.GetWish(ctx, olga.UserID)
	req.NoError(err)
	req.Empty(wish)
	comments, err := s.GetComments(ctx, petr.UserID)
	req.NoError(err)
	req.Empty(comments)

	req.ErrorIs(g.Leave(ctx, olga.UserID), domain.ErrNotParticipant)
}

func TestGame_AddRestriction(t *testing.T) {
	ctx := context.Background()

	t.Run("should store a restriction", func(t *testing.T) {
		req := require.New(t)
		g, _ := newTestGame(t, ivan, olga, petr)

		req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))

		restrictions, err := g.Restrictions(ctx)
		req.NoError(err)
		req.Equal([]domain.Restriction{{UserID: ivan.UserID, ForbiddenUserID: olga.UserID, CreatorID: ivan.UserID}}, restrictions)
	})

	t.Run("should reject invalid restrictions", func(t *testing.T) {
		req := require.New(t)
		g, _ := newTestGame(t, ivan, olga, petr)
		req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))

		req.ErrorIs(g.AddRestriction(ctx, ivan.UserID, ivan.UserID, ivan.UserID), domain.ErrSelfRestriction)
		req.ErrorIs(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID), domain.ErrRestrictionExists)
		req.ErrorIs(g.AddRestriction(ctx, ivan.UserID, maria.UserID, ivan.UserID), domain.ErrNotParticipant)
		req.ErrorIs(g.AddRestriction(ctx, maria.UserID, ivan.UserID, maria.UserID), domain.ErrNotParticipant)
	})

	t.Run("should reject a restriction that makes the draw impossible", func(t *testing.T) {
		req := require.New(t)
		g, _ := newTestGame(t, ivan, olga, petr)
		req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))

		err := g.AddRestriction(ctx, ivan.UserID, petr.UserID, ivan.UserID)

		req.ErrorIs(err, draw.ErrUnsolvable)
		unsolvable, ok := IsUnsolvable(err)
		req.True(ok)
		req.Equal([]int64{ivan.UserID}, unsolvable.NoReceivers)
		restrictions, err := g.Restrictions(ctx)
		req.NoError(err)
		req.Len(restrictions, 1)
	})

	t.Run("should reject restricting someone outside the game", func(t *testing.T) {
		g, _ := newTestGame(t, ivan)

		require.ErrorIs(t, g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID), domain.ErrNotParticipant)
	})
}

func TestGame_RemoveRestriction(t *testing.T) {
	ctx := context.Background()

	t.Run("should only let the creator or an admin remove", func(t *testing.T) {
		req := require.New(t)
		g, _ := newTestGame(t, ivan, olga, petr)
		req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))

		req.ErrorIs(g.RemoveRestriction(ctx, ivan.UserID, olga.UserID, petr.UserID, false), domain.ErrNotRestrictionOwner)
		req.NoError(g.RemoveRestriction(ctx, ivan.UserID, olga.UserID, petr.UserID, true))
		req.ErrorIs(g.RemoveRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID, false), domain.ErrRestrictionNotFound)
	})
}

func TestGame_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("should require two participants", func(t *testing.T) {
		g, _ := newTestGame(t, ivan)

		_, err := g.Generate(ctx)

		require.ErrorIs(t, err, domain.ErrNotEnoughParticipants)
	})

	t.Run("should honour restrictions and persist the draw", func(t *testing.T) {
		req := require.New(t)
		g, s := newTestGame(t, ivan, olga, petr, maria)
		req.NoError(g.AddRestriction(ctx, ivan.UserID, olga.UserID, ivan.UserID))
		req.NoError(g.AddRestriction(ctx, olga.UserID, ivan.UserID, olga.UserID))

		for range 20 {
			assignment, err := g.Generate(ctx)
			req.NoError(err)
			req.NotEqual(olga.UserID, assignment[ivan.UserID])
			req.NotEqual(ivan.UserID, assignment[olga.UserID])

			stored, err := s.GetAllAssignments(ctx)
			req.NoError(err)
			req.Equal(map[int64]int64(assignment), stored)
		}

		state, err := s.GetGameState(ctx)
		req.NoError(err)
		req.Equal(domain.StatusGenerated, state.Status)
		req.NotEmpty(state.Round)
		req.False(state.GeneratedAt.IsZero())
	})

	t.Run("should report unsolvable restrictions", func(t *testing.T) {
		req := require.New(t)
		s, _ := newTestStorage(t)
		g := NewGame(s, logger.NewNop(), draw.Options{Symmetric: true})
		for _, p := range []*domain.Participant{ivan, olga, petr} {
			req.NoError(s.SaveParticipant(ctx, p))
		}
		// written directly: AddRestriction would refuse the second one
		req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: ivan.UserID, ForbiddenUserID: olga.UserID, CreatorID: ivan.UserID}))
		req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: petr.UserID, ForbiddenUserID: ivan.UserID, CreatorID: petr.UserID}))

		_, err := g.Generate(ctx)

		req.ErrorIs(err, draw.ErrUnsolvable)
		state, err := s.GetGameState(ctx)
		req.NoError(err)
		req.Equal(domain.StatusOpen, state.Status)
	})
}

func TestGame_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("should require generated assignments", func(t *testing.T) {
		g, _ := newTestGame(t, ivan, olga)
		ctrl := gomock.NewController(t)

		_, err := g.Start(ctx, mocks.NewMockNotifier(ctrl))

		require.ErrorIs(t, err, domain.ErrNotGenerated)
	})

	t.Run("should notify every giver and count failures", func(t *testing.T) {
		req := require.New(t)
		g, s := newTestGame(t, ivan, olga, petr)
		req.NoError(g.SetWish(ctx, olga.UserID, "книга"))
		_, err := g.Generate(ctx)
		req.NoError(err)

		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockNotifier(ctrl)
		notifier.EXPECT().Notify(gomock.Any(), ivan.UserID, gomock.Any()).Return(nil)
		notifier.EXPECT().Notify(gomock.Any(), olga.UserID, gomock.Any()).Return(errors.New("bot was blocked by the user"))
		notifier.EXPECT().Notify(gomock.Any(), petr.UserID, gomock.Any()).Return(nil)

		report, err := g.Start(ctx, notifier)

		req.NoError(err)
		req.Equal(StartReport{Sent: 2, Failed: 1}, report)
		state, err := s.GetGameState(ctx)
		req.NoError(err)
		req.Equal(domain.StatusStarted, state.Status)

		_, err = g.Start(ctx, notifier)
		req.ErrorIs(err, domain.ErrGameStarted)
		_, err = g.Generate(ctx)
		req.ErrorIs(err, domain.ErrGameStarted)
	})

	t.Run("should send nothing when the started state cannot be saved", func(t *testing.T) {
		req := require.New(t)
		g, s := newTestGame(t, ivan, olga, petr)
		_, err := g.Generate(ctx)
		req.NoError(err)
		g.storage = &failingStateStorage{Storage: s, failOn: domain.StatusStarted}
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockNotifier(ctrl)

		report, err := g.Start(ctx, notifier)

		req.ErrorIs(err, errStateUnavailable)
		req.Zero(report)
		state, err := s.GetGameState(ctx)
		req.NoError(err)
		req.Equal(domain.StatusGenerated, state.Status)

		g.storage = s
		notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)
		report, err = g.Start(ctx, notifier)
		req.NoError(err)
		req.Equal(StartReport{Sent: 3}, report)
	})
}

func TestGame_AssignmentMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g, s := newTestGame(t, ivan, olga, petr)
	req.NoError(g.SetWish(ctx, olga.UserID, "книга"))
	req.NoError(g.AddComment(ctx, petr.UserID, olga.UserID, "любит фантастику"))
	req.NoError(g.AddComment(ctx, 99, olga.UserID, "и чай"))
	req.NoError(s.ReplaceAssignments(ctx, map[int64]int64{ivan.UserID: olga.UserID, olga.UserID: petr.UserID, petr.UserID: ivan.UserID}))

	text, err := g.AssignmentMessage(ctx, ivan.UserID)

	req.NoError(err)
	req.Equal("🎅 Тайный Санта назначен!\n\n"+
		"Вы дарите подарок: Ольга (@olga)\n\n"+
		"💝 Желание получателя:\nкнига\n\n"+
		"💬 Комментарии от участников:\n\n"+
		"👤 Пётр (@petr):\nлюбит фантастику\n\n"+
		"👤 Участник (ID: 99):\nи чай", text)

	_, err = g.AssignmentMessage(ctx, maria.UserID)
	req.ErrorIs(err, domain.ErrNotGenerated)
}

func TestGame_WishesAndComments(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t, ivan, olga)

	req.ErrorIs(g.SetWish(ctx, maria.UserID, "что-нибудь"), domain.ErrNotParticipant)
	req.NoError(g.SetWish(ctx, ivan.UserID, "варежки"))
	wish, err := g.Wish(ctx, ivan.UserID)
	req.NoError(err)
	req.Equal("варежки", wish)
	req.NoError(g.DeleteWish(ctx, ivan.UserID))
	wish, err = g.Wish(ctx, ivan.UserID)
	req.NoError(err)
	req.Empty(wish)

	req.ErrorIs(g.AddComment(ctx, ivan.UserID, ivan.UserID, "сам себе"), domain.ErrSelfComment)
	req.ErrorIs(g.AddComment(ctx, ivan.UserID, maria.UserID, "?"), domain.ErrNotParticipant)
}

func TestGame_RememberUser(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g, s := newTestGame(t, ivan)

	req.NoError(g.RememberUser(ctx, &domain.Participant{UserID: ivan.UserID, Username: "ivan_new", FullName: "Иван Иванов"}))
	req.NoError(g.RememberUser(ctx, &domain.Participant{UserID: 50, Username: "guest", FullName: "Гость"}))

	p, err := s.GetParticipant(ctx, ivan.UserID)
	req.NoError(err)
	req.Equal("ivan_new", p.Username)
	guest, err := g.FindKnownUser(ctx, "@Guest")
	req.NoError(err)
	req.Equal(int64(50), guest.UserID)
	notJoined, err := s.GetParticipant(ctx, 50)
	req.NoError(err)
	req.Nil(notJoined)

	found, err := g.FindParticipant(ctx, "@IVAN_new")
	req.NoError(err)
	req.Equal(ivan.UserID, found.UserID)
	_, err = g.FindParticipant(ctx, "guest")
	req.ErrorIs(err, domain.ErrNotParticipant)
}

func TestGame_ParticipantsAndReset(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t, petr, ivan, olga)

	list, err := g.Participants(ctx)
	req.NoError(err)
	req.Equal([]string{"Иван", "Ольга", "Пётр"}, []string{list[0].FullName, list[1].FullName, list[2].FullName})

	req.NoError(g.Reset(ctx))

	status, err := g.Status(ctx)
	req.NoError(err)
	req.Zero(status.Participants)
	req.Equal(domain.StatusOpen, status.State.Status)
}
