package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrChallengeInvalid covers every redemption failure: unknown id, wrong
// user, expired or already consumed. A single error keeps callers from
// probing which challenges exist.
var ErrChallengeInvalid = errors.New("challenge invalid or expired")

// Challenge is a short-lived voice liveness prompt issued to one user.
// It is consumed on first successful redemption.
type Challenge struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeStore issues and redeems voice challenges. Redeem is atomic:
// two concurrent redemptions of the same id cannot both succeed.
type ChallengeStore interface {
	Issue(ctx context.Context, userID string) (*Challenge, error)
	Redeem(ctx context.Context, userID, challengeID string) (*Challenge, error)
}

// NewChallengeStore returns a Redis-backed store when a client is
// available, otherwise an in-memory store for single-instance deployments.
func NewChallengeStore(client *redis.Client, ttl time.Duration) ChallengeStore {
	if client != nil {
		return NewRedisChallengeStore(client, ttl)
	}
	return NewMemoryChallengeStore(ttl)
}

const (
	challengeIDLength  = 16
	challengeIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	challengeKeyPrefix = "voice_challenge:"
)

// challengePrompts are read aloud by the candidate so liveness can be
// confirmed against the enrolled voice template.
var challengePrompts = []string{
	"My voice is my password, please verify me now",
	"I confirm that I am taking this exam myself",
	"Online assessments require honest participation",
	"Today I will complete this test on my own",
	"Please verify my identity before I continue",
	"The examination rules apply to every candidate",
	"I am present at my desk and ready to proceed",
	"Academic integrity matters more than any grade",
	"This recording confirms that I am still here",
	"I understand that this session is being monitored",
}

func newChallenge(userID string, ttl time.Duration) (*Challenge, error) {
	id, err := randomChallengeID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge id: %w", err)
	}
	prompt, err := randomPrompt()
	if err != nil {
		return nil, fmt.Errorf("failed to pick challenge prompt: %w", err)
	}

	now := time.Now()
	return &Challenge{
		ID:        id,
		UserID:    userID,
		Prompt:    prompt,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func randomChallengeID() (string, error) {
	buf := make([]byte, challengeIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = challengeIDCharset[int(b)%len(challengeIDCharset)]
	}
	return string(buf), nil
}

func randomPrompt() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(challengePrompts))))
	if err != nil {
		return "", err
	}
	return challengePrompts[n.Int64()], nil
}

// challengeKey scopes entries by user so one user can never redeem or
// consume another user's challenge.
func challengeKey(userID, challengeID string) string {
	return fmt.Sprintf("%s%s:%s", challengeKeyPrefix, userID, challengeID)
}

// RedisChallengeStore keeps challenges in Redis with a server-side TTL.
// Expiry needs no sweeper and single-use comes from GETDEL, which makes
// redemption atomic across service instances.
type RedisChallengeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisChallengeStore creates a Redis-backed challenge store
func NewRedisChallengeStore(client *redis.Client, ttl time.Duration) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
		ttl:    ttl,
	}
}

// Issue creates a new challenge for the user and stores it under its TTL
func (s *RedisChallengeStore) Issue(ctx context.Context, userID string) (*Challenge, error) {
	challenge, err := newChallenge(userID, s.ttl)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}

	key := challengeKey(userID, challenge.ID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Redeem consumes the challenge in a single atomic GETDEL. A second
// redemption, a foreign user or an expired entry all miss the key.
func (s *RedisChallengeStore) Redeem(ctx context.Context, userID, challengeID string) (*Challenge, error) {
	key := challengeKey(userID, challengeID)
	data, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("failed to redeem challenge: %w", err)
	}

	var challenge Challenge
	if err := json.Unmarshal([]byte(data), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	// Redis TTL already evicts expired entries, this guards clock skew
	if time.Now().After(challenge.ExpiresAt) {
		return nil, ErrChallengeInvalid
	}

	return &challenge, nil
}

// MemoryChallengeStore is the fallback when Redis is not configured.
// All operations run under one mutex, which bounds it to a single
// process but preserves the atomic check-and-delete semantics.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	ttl        time.Duration
}

// NewMemoryChallengeStore creates an in-memory challenge store
func NewMemoryChallengeStore(ttl time.Duration) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
	}
}

// Issue creates a new challenge and sweeps out expired entries
func (s *MemoryChallengeStore) Issue(ctx context.Context, userID string) (*Challenge, error) {
	challenge, err := newChallenge(userID, s.ttl)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()
	s.challenges[challengeKey(userID, challenge.ID)] = challenge

	return challenge, nil
}

// Redeem validates and consumes the challenge under the store lock
func (s *MemoryChallengeStore) Redeem(ctx context.Context, userID, challengeID string) (*Challenge, error) {
	key := challengeKey(userID, challengeID)

	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[key]
	if !ok {
		return nil, ErrChallengeInvalid
	}

	delete(s.challenges, key)

	if time.Now().After(challenge.ExpiresAt) {
		return nil, ErrChallengeInvalid
	}

	return challenge, nil
}

func (s *MemoryChallengeStore) purgeExpiredLocked() {
	now := time.Now()
	for key, challenge := range s.challenges {
		if now.After(challenge.ExpiresAt) {
			delete(s.challenges, key)
		}
	}
}
