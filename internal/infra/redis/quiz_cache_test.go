package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"quiz-server/internal/domain"
	"quiz-server/internal/infra/memory"
)

func TestQuizCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	quizID := seedQuiz(t, store.Store)

	cache := NewQuizCache(newClient(mr), store, time.Minute)
	quiz, err := cache.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if store.gets != 1 {
		t.Fatalf("expected store called once, got %d", store.gets)
	}
	if !mr.Exists(contentKey(quizID)) {
		t.Fatalf("expected redis key to be set")
	}

	// Second call should hit cache, store not incremented.
	cached, err := cache.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if store.gets != 1 {
		t.Fatalf("expected cache hit, store calls=%d", store.gets)
	}
	if cached.Name != quiz.Name || len(cached.Questions) != 2 || cached.Questions[1].Correct != "C" {
		t.Fatalf("cached quiz differs: %+v", cached)
	}
}

func TestQuizCacheDeleteClearsKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	quizID := seedQuiz(t, store.Store)
	cache := NewQuizCache(newClient(mr), store, time.Minute)

	if _, err := cache.GetQuizWithQuestions(ctx, quizID); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if err := cache.DeleteQuizCascading(ctx, quizID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(contentKey(quizID)) {
		t.Fatalf("expected redis key to be removed")
	}
	if _, err := cache.GetQuizWithQuestions(ctx, quizID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuizCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	store := &countingStore{Store: memory.NewStore()}
	quizID := seedQuiz(t, store.Store)
	cache := NewQuizCache(client, store, time.Minute)

	if _, err := cache.GetQuizWithQuestions(context.Background(), quizID); err != nil {
		t.Fatalf("expected store fallback, got %v", err)
	}
}

func TestQuizCacheSkipsFillThatRacedDelete(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := &stallingStore{Store: memory.NewStore(), loaded: make(chan struct{}), release: make(chan struct{})}
	quizID := seedQuiz(t, store.Store)
	cache := NewQuizCache(newClient(mr), store, time.Minute)

	filled := make(chan error, 1)
	go func() {
		_, err := cache.GetQuizWithQuestions(ctx, quizID)
		filled <- err
	}()
	<-store.loaded

	// The fill holds a snapshot taken before the delete and writes after it.
	if err := cache.DeleteQuizCascading(ctx, quizID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(store.release)
	if err := <-filled; err != nil {
		t.Fatalf("get quiz: %v", err)
	}

	if mr.Exists(contentKey(quizID)) {
		t.Fatalf("stale snapshot written after delete")
	}
	if _, err := cache.GetQuizWithQuestions(ctx, quizID); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuizCacheZeroTTLDoesNotCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore()}
	quizID := seedQuiz(t, store.Store)
	cache := NewQuizCache(newClient(mr), store, 0)

	for i := 0; i < 2; i++ {
		if _, err := cache.GetQuizWithQuestions(ctx, quizID); err != nil {
			t.Fatalf("get quiz: %v", err)
		}
	}
	if mr.Exists(contentKey(quizID)) {
		t.Fatalf("expected no redis key with zero ttl")
	}
	if store.gets != 2 {
		t.Fatalf("expected every read to reach the store, got %d", store.gets)
	}
}

// stallingStore parks the first quiz load after it has read the store.
type stallingStore struct {
	*memory.Store
	calls   atomic.Int32
	loaded  chan struct{}
	release chan struct{}
}

func (s *stallingStore) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	quiz, err := s.Store.GetQuizWithQuestions(ctx, quizID)
	if s.calls.Add(1) == 1 {
		close(s.loaded)
		<-s.release
	}
	return quiz, err
}

type countingStore struct {
	*memory.Store
	gets int
}

func (s *countingStore) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	s.gets++
	return s.Store.GetQuizWithQuestions(ctx, quizID)
}

func seedQuiz(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	ctx := context.Background()
	teacherID, err := store.RegisterUser(ctx, domain.User{Username: "t", Password: "pw", FullName: "Teacher", Role: domain.RoleTeacher})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	quizID, err := store.CreateQuizWithQuestions(ctx, domain.Quiz{
		Name:      "Arithmetic",
		TeacherID: teacherID,
		TimeLimit: 20,
		Active:    true,
		Questions: []domain.Question{
			{Text: "2 + 2?", Options: [4]string{"3", "4", "5", "6"}, Correct: "B"},
			{Text: "3 + 3?", Options: [4]string{"5", "7", "6", "8"}, Correct: "C"},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return quizID
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
