package service

import (
	"context"
	"testing"
	"time"

	"telegram-secret-santa/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewStorageFromClient(client, "santa")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStorage_Participants(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	missing, err := s.GetParticipant(ctx, 1)
	req.NoError(err)
	req.Nil(missing)

	req.NoError(s.SaveParticipant(ctx, &domain.Participant{UserID: 1, Username: "ivan", FullName: "Ivan"}))
	req.NoError(s.SaveParticipant(ctx, &domain.Participant{UserID: 2, Username: "olga", FullName: "Olga"}))

	p, err := s.GetParticipant(ctx, 1)
	req.NoError(err)
	req.Equal("ivan", p.Username)

	all, err := s.GetAllParticipants(ctx)
	req.NoError(err)
	req.Len(all, 2)
	req.Equal("Olga", all[2].FullName)

	req.NoError(s.DeleteParticipant(ctx, 1))
	all, err = s.GetAllParticipants(ctx)
	req.NoError(err)
	req.Len(all, 1)
}

func TestStorage_KnownUsers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "Snow_Maiden", FullName: "Snegurochka"}))
	req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 8, FullName: "No Username"}))

	u, err := s.FindKnownUser(ctx, "@snow_maiden")
	req.NoError(err)
	req.Equal(int64(7), u.UserID)

	none, err := s.FindKnownUser(ctx, "nobody")
	req.NoError(err)
	req.Nil(none)

	t.Run("should forget the old handle after a rename", func(t *testing.T) {
		req := require.New(t)
		s, _ := newTestStorage(t)
		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "snow_maiden"}))

		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "Ded_Moroz"}))

		old, err := s.FindKnownUser(ctx, "snow_maiden")
		req.NoError(err)
		req.Nil(old)
		renamed, err := s.FindKnownUser(ctx, "ded_moroz")
		req.NoError(err)
		req.Equal(int64(7), renamed.UserID)
	})

	t.Run("should keep a handle taken over by someone else", func(t *testing.T) {
		req := require.New(t)
		s, _ := newTestStorage(t)
		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "snow_maiden"}))
		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 9, Username: "snow_maiden"}))

		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "ded_moroz"}))

		owner, err := s.FindKnownUser(ctx, "snow_maiden")
		req.NoError(err)
		req.Equal(int64(9), owner.UserID)
	})

	t.Run("should forget a removed username", func(t *testing.T) {
		req := require.New(t)
		s, _ := newTestStorage(t)
		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, Username: "snow_maiden"}))

		req.NoError(s.SaveKnownUser(ctx, &domain.Participant{UserID: 7, FullName: "Snegurochka"}))

		old, err := s.FindKnownUser(ctx, "snow_maiden")
		req.NoError(err)
		req.Nil(old)
	})
}

func TestStorage_Restrictions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: 2, ForbiddenUserID: 1, CreatorID: 2}))
	req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: 1, ForbiddenUserID: 3, CreatorID: 9}))
	req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: 1, ForbiddenUserID: 2, CreatorID: 1}))
	req.NoError(s.SaveRestriction(ctx, domain.Restriction{UserID: 3, ForbiddenUserID: 4, CreatorID: 3}))

	r, err := s.GetRestriction(ctx, 1, 3)
	req.NoError(err)
	req.Equal(int64(9), r.CreatorID)

	none, err := s.GetRestriction(ctx, 3, 1)
	req.NoError(err)
	req.Nil(none)

	all, err := s.GetAllRestrictions(ctx)
	req.NoError(err)
	req.Equal([]domain.Restriction{
		{UserID: 1, ForbiddenUserID: 2, CreatorID: 1},
		{UserID: 1, ForbiddenUserID: 3, CreatorID: 9},
		{UserID: 2, ForbiddenUserID: 1, CreatorID: 2},
		{UserID: 3, ForbiddenUserID: 4, CreatorID: 3},
	}, all)

	req.NoError(s.DeleteAllRestrictionsForUser(ctx, 1))
	all, err = s.GetAllRestrictions(ctx)
	req.NoError(err)
	req.Equal([]domain.Restriction{{UserID: 3, ForbiddenUserID: 4, CreatorID: 3}}, all)

	req.NoError(s.DeleteRestriction(ctx, 3, 4))
	all, err = s.GetAllRestrictions(ctx)
	req.NoError(err)
	req.Empty(all)
}

func TestStorage_ReplaceAssignments(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	req.NoError(s.ReplaceAssignments(ctx, map[int64]int64{1: 2, 2: 3, 3: 1}))
	req.NoError(s.ReplaceAssignments(ctx, map[int64]int64{1: 3, 3: 1}))

	all, err := s.GetAllAssignments(ctx)
	req.NoError(err)
	req.Equal(map[int64]int64{1: 3, 3: 1}, all)

	receiver, err := s.GetAssignment(ctx, 2)
	req.NoError(err)
	req.Zero(receiver)

	req.NoError(s.DeleteAllAssignments(ctx))
	all, err = s.GetAllAssignments(ctx)
	req.NoError(err)
	req.Empty(all)
}

func TestStorage_GameState(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	state, err := s.GetGameState(ctx)
	req.NoError(err)
	req.Equal(domain.StatusOpen, state.Status)

	at := time.Date(2025, 12, 1, 18, 30, 0, 0, time.UTC)
	req.NoError(s.SaveGameState(ctx, domain.GameState{Status: domain.StatusGenerated, Round: "r-1", GeneratedAt: at}))

	state, err = s.GetGameState(ctx)
	req.NoError(err)
	req.Equal(domain.GameState{Status: domain.StatusGenerated, Round: "r-1", GeneratedAt: at}, state)
}

func TestStorage_WishesAndComments(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := newTestStorage(t)

	req.NoError(s.SaveWish(ctx, 1, "книга"))
	wish, err := s.GetWish(ctx, 1)
	req.NoError(err)
	req.Equal("книга", wish)
	req.NoError(s.DeleteWish(ctx, 1))
	wish, err = s.GetWish(ctx, 1)
	req.NoError(err)
	req.Empty(wish)

	req.NoError(s.SaveComment(ctx, 1, 2, "любит чай"))
	req.NoError(s.SaveComment(ctx, 1, 3, "размер M"))
	req.NoError(s.SaveComment(ctx, 2, 1, "не дарите носки"))

	comments, err := s.GetComments(ctx, 1)
	req.NoError(err)
	req.Equal(map[int64]string{2: "любит чай", 3: "размер M"}, comments)

	req.NoError(s.DeleteCommentsFor(ctx, 1))

	comments, err = s.GetComments(ctx, 1)
	req.NoError(err)
	req.Empty(comments)
	comments, err = s.GetComments(ctx, 2)
	req.NoError(err)
	req.Empty(comments)
}

func TestStorage_ClearAllKeepsOtherPrefixes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, mr := newTestStorage(t)

	req.NoError(s.SaveParticipant(ctx, &domain.Participant{UserID: 1}))
	req.NoError(s.SaveComment(ctx, 1, 2, "hint"))
	req.NoError(mr.Set("other:key", "value"))

	req.NoError(s.ClearAll(ctx))

	req.False(mr.Exists("santa:participants"))
	req.False(mr.Exists("santa:comments:1"))
	req.True(mr.Exists("other:key"))
}

func TestNewStorage_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewStorage(context.Background(), addr, "", 0, "santa")

	require.ErrorContains(t, err, "failed to connect to Redis")
}
