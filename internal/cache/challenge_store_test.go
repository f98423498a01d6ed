package cache

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const challengeTestTTL = 60 * time.Second

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisChallengeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisChallengeStore(client, ttl), mr
}

// challengeStores runs shared behavior tests against both implementations
func challengeStores(t *testing.T) map[string]ChallengeStore {
	t.Helper()
	redisStore, _ := newRedisStore(t, challengeTestTTL)
	return map[string]ChallengeStore{
		"redis":  redisStore,
		"memory": NewMemoryChallengeStore(challengeTestTTL),
	}
}

func TestChallengeStore_Issue(t *testing.T) {
	idPattern := regexp.MustCompile(`^[a-zA-Z0-9]{16}$`)

	for name, store := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			challenge, err := store.Issue(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			if !idPattern.MatchString(challenge.ID) {
				t.Errorf("Issue() id = %q, want 16 alphanumeric characters", challenge.ID)
			}
			if challenge.UserID != "user-1" {
				t.Errorf("Issue() user = %q, want user-1", challenge.UserID)
			}

			found := false
			for _, prompt := range challengePrompts {
				if prompt == challenge.Prompt {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Issue() prompt %q not from the configured list", challenge.Prompt)
			}

			remaining := time.Until(challenge.ExpiresAt)
			if remaining <= 0 || remaining > challengeTestTTL {
				t.Errorf("Issue() expiry in %v, want within (0, %v]", remaining, challengeTestTTL)
			}
		})
	}
}

func TestChallengeStore_RedeemOnce(t *testing.T) {
	for name, store := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			issued, err := store.Issue(ctx, "user-1")
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			redeemed, err := store.Redeem(ctx, "user-1", issued.ID)
			if err != nil {
				t.Fatalf("Redeem() error = %v", err)
			}
			if redeemed.Prompt != issued.Prompt {
				t.Errorf("Redeem() prompt = %q, want %q", redeemed.Prompt, issued.Prompt)
			}

			// Replay with the same id must fail even though the TTL has not passed
			if _, err := store.Redeem(ctx, "user-1", issued.ID); !errors.Is(err, ErrChallengeInvalid) {
				t.Errorf("second Redeem() error = %v, want ErrChallengeInvalid", err)
			}
		})
	}
}

func TestChallengeStore_WrongUser(t *testing.T) {
	for name, store := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			issued, err := store.Issue(ctx, "user-1")
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			if _, err := store.Redeem(ctx, "user-2", issued.ID); !errors.Is(err, ErrChallengeInvalid) {
				t.Errorf("Redeem() by other user error = %v, want ErrChallengeInvalid", err)
			}

			// A foreign redemption attempt must not consume the owner's challenge
			if _, err := store.Redeem(ctx, "user-1", issued.ID); err != nil {
				t.Errorf("owner Redeem() after foreign attempt error = %v", err)
			}
		})
	}
}

func TestChallengeStore_UnknownID(t *testing.T) {
	for name, store := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Redeem(context.Background(), "user-1", "doesnotexist0000"); !errors.Is(err, ErrChallengeInvalid) {
				t.Errorf("Redeem() unknown id error = %v, want ErrChallengeInvalid", err)
			}
		})
	}
}

func TestChallengeStore_ConcurrentRedeem(t *testing.T) {
	for name, store := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			issued, err := store.Issue(ctx, "user-1")
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			const attempts = 10
			var wg sync.WaitGroup
			results := make(chan error, attempts)

			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Redeem(ctx, "user-1", issued.ID)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			successes := 0
			for err := range results {
				if err == nil {
					successes++
				} else if !errors.Is(err, ErrChallengeInvalid) {
					t.Errorf("Redeem() unexpected error = %v", err)
				}
			}
			if successes != 1 {
				t.Errorf("concurrent Redeem() successes = %d, want exactly 1", successes)
			}
		})
	}
}

func TestRedisChallengeStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t, challengeTestTTL)

	ctx := context.Background()
	issued, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	mr.FastForward(challengeTestTTL + time.Second)

	if _, err := store.Redeem(ctx, "user-1", issued.ID); !errors.Is(err, ErrChallengeInvalid) {
		t.Errorf("Redeem() after expiry error = %v, want ErrChallengeInvalid", err)
	}
}

func TestMemoryChallengeStore_Expiry(t *testing.T) {
	// Negative TTL makes the challenge already expired at issue time
	store := NewMemoryChallengeStore(-1 * time.Second)

	ctx := context.Background()
	issued, err := store.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := store.Redeem(ctx, "user-1", issued.ID); !errors.Is(err, ErrChallengeInvalid) {
		t.Errorf("Redeem() after expiry error = %v, want ErrChallengeInvalid", err)
	}
}

func TestMemoryChallengeStore_PurgesExpiredOnIssue(t *testing.T) {
	store := NewMemoryChallengeStore(-1 * time.Second)

	ctx := context.Background()
	if _, err := store.Issue(ctx, "user-1"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := store.Issue(ctx, "user-2"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	store.mu.Lock()
	size := len(store.challenges)
	store.mu.Unlock()

	// The second Issue sweeps the first user's expired entry
	if size != 1 {
		t.Errorf("store size = %d, want 1 after expired sweep", size)
	}
}

func TestNewChallengeStore_FallsBackToMemory(t *testing.T) {
	store := NewChallengeStore(nil, challengeTestTTL)
	if _, ok := store.(*MemoryChallengeStore); !ok {
		t.Errorf("NewChallengeStore(nil) = %T, want *MemoryChallengeStore", store)
	}
}
