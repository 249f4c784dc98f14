package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"telegram-secret-santa/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Storage keeps one game in Redis hashes under a key prefix:
//
//	<prefix>:participants      userID -> participant JSON
//	<prefix>:users             lowercase username -> participant JSON of anyone seen
//	<prefix>:usernames         userID -> current lowercase username
//	<prefix>:restrictions      "userID:forbiddenUserID" -> creatorID
//	<prefix>:assignments       giverID -> receiverID
//	<prefix>:state             status, round, generated_at
//	<prefix>:wishes            userID -> wish
//	<prefix>:comments:<userID> authorID -> comment
type Storage struct {
	client *redis.Client
	prefix string
}

func NewStorage(ctx context.Context, addr, password string, db int, prefix string) (*Storage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStorageFromClient(rdb, prefix), nil
}

func NewStorageFromClient(client *redis.Client, prefix string) *Storage {
	return &Storage{client: client, prefix: prefix}
}

func (s *Storage) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Storage) commentsKey(receiverID int64) string {
	return fmt.Sprintf("%s:comments:%d", s.prefix, receiverID)
}

func userField(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func restrictionField(userID, forbiddenUserID int64) string {
	return fmt.Sprintf("%d:%d", userID, forbiddenUserID)
}

func (s *Storage) SaveParticipant(ctx context.Context, p *domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize participant: %w", err)
	}
	return s.client.HSet(ctx, s.key("participants"), userField(p.UserID), data).Err()
}

func (s *Storage) GetParticipant(ctx context.Context, userID int64) (*domain.Participant, error) {
	data, err := s.client.HGet(ctx, s.key("participants"), userField(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to deserialize participant: %w", err)
	}
	return &p, nil
}

func (s *Storage) GetAllParticipants(ctx context.Context) (map[int64]*domain.Participant, error) {
	raw, err := s.client.HGetAll(ctx, s.key("participants")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	participants := make(map[int64]*domain.Participant, len(raw))
	for _, data := range raw {
		var p domain.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize participant: %w", err)
		}
		participants[p.UserID] = &p
	}
	return participants, nil
}

func (s *Storage) DeleteParticipant(ctx context.Context, userID int64) error {
	return s.client.HDel(ctx, s.key("participants"), userField(userID)).Err()
}

// SaveKnownUser remembers a user the bot has seen, so that /adduser can
// resolve @username later. A renamed user loses the old handle; users
// without a username are not indexed.
func (s *Storage) SaveKnownUser(ctx context.Context, u *domain.Participant) error {
	usernames := s.key("usernames")
	previous, err := s.client.HGet(ctx, usernames, userField(u.UserID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get previous username: %w", err)
	}
	username := strings.ToLower(u.Username)

	stale := false
	if previous != "" && previous != username {
		owner, err := s.FindKnownUser(ctx, previous)
		if err != nil {
			return err
		}
		stale = owner != nil && owner.UserID == u.UserID
	}

	var data []byte
	if username != "" {
		if data, err = json.Marshal(u); err != nil {
			return fmt.Errorf("failed to serialize user: %w", err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if stale {
			pipe.HDel(ctx, s.key("users"), previous)
		}
		if username == "" {
			pipe.HDel(ctx, usernames, userField(u.UserID))
			return nil
		}
		pipe.HSet(ctx, s.key("users"), username, data)
		pipe.HSet(ctx, usernames, userField(u.UserID), username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Storage) FindKnownUser(ctx context.Context, username string) (*domain.Participant, error) {
	username = strings.ToLower(strings.TrimPrefix(username, "@"))
	data, err := s.client.HGet(ctx, s.key("users"), username).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var u domain.Participant
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("failed to deserialize user: %w", err)
	}
	return &u, nil
}

func (s *Storage) SaveRestriction(ctx context.Context, r domain.Restriction) error {
	field := restrictionField(r.UserID, r.ForbiddenUserID)
	if err := s.client.HSet(ctx, s.key("restrictions"), field, r.CreatorID).Err(); err != nil {
		return fmt.Errorf("failed to save restriction: %w", err)
	}
	return nil
}

func (s *Storage) GetRestriction(ctx context.Context, userID, forbiddenUserID int64) (*domain.Restriction, error) {
	data, err := s.client.HGet(ctx, s.key("restrictions"), restrictionField(userID, forbiddenUserID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get restriction: %w", err)
	}
	creatorID, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse creator ID: %w", err)
	}
	return &domain.Restriction{UserID: userID, ForbiddenUserID: forbiddenUserID, CreatorID: creatorID}, nil
}

// GetAllRestrictions returns restrictions ordered by user, then forbidden user.
func (s *Storage) GetAllRestrictions(ctx context.Context) ([]domain.Restriction, error) {
	raw, err := s.client.HGetAll(ctx, s.key("restrictions")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get restrictions: %w", err)
	}

	restrictions := make([]domain.Restriction, 0, len(raw))
	for field, data := range raw {
		var r domain.Restriction
		if _, err := fmt.Sscanf(field, "%d:%d", &r.UserID, &r.ForbiddenUserID); err != nil {
			return nil, fmt.Errorf("malformed restriction field %q: %w", field, err)
		}
		if r.CreatorID, err = strconv.ParseInt(data, 10, 64); err != nil {
			return nil, fmt.Errorf("failed to parse creator ID: %w", err)
		}
		restrictions = append(restrictions, r)
	}

	sort.Slice(restrictions, func(i, j int) bool {
		if restrictions[i].UserID != restrictions[j].UserID {
			return restrictions[i].UserID < restrictions[j].UserID
		}
		return restrictions[i].ForbiddenUserID < restrictions[j].ForbiddenUserID
	})
	return restrictions, nil
}

func (s *Storage) DeleteRestriction(ctx context.Context, userID, forbiddenUserID int64) error {
	if err := s.client.HDel(ctx, s.key("restrictions"), restrictionField(userID, forbiddenUserID)).Err(); err != nil {
		return fmt.Errorf("failed to delete restriction: %w", err)
	}
	return nil
}

// DeleteAllRestrictionsForUser removes restrictions where the user is on
// either side.
func (s *Storage) DeleteAllRestrictionsForUser(ctx context.Context, userID int64) error {
	restrictions, err := s.GetAllRestrictions(ctx)
	if err != nil {
		return err
	}

	var fields []string
	for _, r := range restrictions {
		if r.UserID == userID || r.ForbiddenUserID == userID {
			fields = append(fields, restrictionField(r.UserID, r.ForbiddenUserID))
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, s.key("restrictions"), fields...).Err()
}

// ReplaceAssignments swaps the whole assignment set in one transaction.
func (s *Storage) ReplaceAssignments(ctx context.Context, assignments map[int64]int64) error {
	key := s.key("assignments")
	values := make(map[string]interface{}, len(assignments))
	for giverID, receiverID := range assignments {
		values[userField(giverID)] = receiverID
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save assignments: %w", err)
	}
	return nil
}

func (s *Storage) GetAssignment(ctx context.Context, giverID int64) (int64, error) {
	data, err := s.client.HGet(ctx, s.key("assignments"), userField(giverID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get assignment: %w", err)
	}

	receiverID, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse receiver ID: %w", err)
	}
	return receiverID, nil
}

func (s *Storage) GetAllAssignments(ctx context.Context) (map[int64]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key("assignments")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}

	assignments := make(map[int64]int64, len(raw))
	for field, data := range raw {
		giverID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse giver ID: %w", err)
		}
		receiverID, err := strconv.ParseInt(data, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse receiver ID: %w", err)
		}
		assignments[giverID] = receiverID
	}
	return assignments, nil
}

func (s *Storage) DeleteAllAssignments(ctx context.Context) error {
	return s.client.Del(ctx, s.key("assignments")).Err()
}

func (s *Storage) SaveGameState(ctx context.Context, state domain.GameState) error {
	generatedAt := ""
	if !state.GeneratedAt.IsZero() {
		generatedAt = state.GeneratedAt.UTC().Format(time.RFC3339Nano)
	}
	return s.client.HSet(ctx, s.key("state"),
		"status", string(state.Status),
		"round", state.Round,
		"generated_at", generatedAt,
	).Err()
}

// GetGameState returns an open game when nothing has been stored yet.
func (s *Storage) GetGameState(ctx context.Context) (domain.GameState, error) {
	raw, err := s.client.HGetAll(ctx, s.key("state")).Result()
	if err != nil {
		return domain.GameState{}, fmt.Errorf("failed to get game state: %w", err)
	}

	state := domain.GameState{Status: domain.Status(raw["status"]), Round: raw["round"]}
	if state.Status == "" {
		state.Status = domain.StatusOpen
	}
	if at := raw["generated_at"]; at != "" {
		if state.GeneratedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return domain.GameState{}, fmt.Errorf("failed to parse game state: %w", err)
		}
	}
	return state, nil
}

func (s *Storage) SaveWish(ctx context.Context, userID int64, wish string) error {
	return s.client.HSet(ctx, s.key("wishes"), userField(userID), wish).Err()
}

func (s *Storage) GetWish(ctx context.Context, userID int64) (string, error) {
	data, err := s.client.HGet(ctx, s.key("wishes"), userField(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get wish: %w", err)
	}
	return data, nil
}

func (s *Storage) DeleteWish(ctx context.Context, userID int64) error {
	return s.client.HDel(ctx, s.key("wishes"), userField(userID)).Err()
}

func (s *Storage) SaveComment(ctx context.Context, receiverID, authorID int64, comment string) error {
	return s.client.HSet(ctx, s.commentsKey(receiverID), userField(authorID), comment).Err()
}

func (s *Storage) GetComments(ctx context.Context, receiverID int64) (map[int64]string, error) {
	raw, err := s.client.HGetAll(ctx, s.commentsKey(receiverID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}

	comments := make(map[int64]string, len(raw))
	for field, text := range raw {
		authorID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse author ID: %w", err)
		}
		comments[authorID] = text
	}
	return comments, nil
}

// DeleteCommentsFor removes comments about the user and comments the user wrote.
func (s *Storage) DeleteCommentsFor(ctx context.Context, userID int64) error {
	keys, err := s.scan(ctx, s.prefix+":comments:*")
	if err != nil {
		return err
	}

	own := s.commentsKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			if key == own {
				pipe.Del(ctx, key)
				continue
			}
			pipe.HDel(ctx, key, userField(userID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	return nil
}

// ClearAll deletes every key of this game and nothing else in the database.
func (s *Storage) ClearAll(ctx context.Context) error {
	keys, err := s.scan(ctx, s.prefix+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Storage) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys %s: %w", pattern, err)
	}
	return keys, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
