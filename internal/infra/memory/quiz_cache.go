package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"quiz-server/internal/app"
	"quiz-server/internal/domain"
)

// QuizCache wraps an app.Store and keeps quiz content (questions and answer
// keys) in process with a TTL. Quizzes are immutable once created, so the only
// invalidation needed is on delete.
type QuizCache struct {
	app.Store

	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	epoch uint64
	cache map[int64]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(store app.Store, ttl time.Duration) *QuizCache {
	return &QuizCache{
		Store: store,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[int64]cachedQuiz),
	}
}

func (c *QuizCache) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(cacheKey(quizID), func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}

		c.mu.RLock()
		epoch := c.epoch
		c.mu.RUnlock()

		quiz, err := c.Store.GetQuizWithQuestions(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		c.mu.Lock()
		// A delete that overlapped this load must not be undone by the fill.
		if c.epoch == epoch && c.ttl > 0 {
			c.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(c.ttlWithJitter())}
		}
		c.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return copyQuiz(result.(domain.Quiz)), nil
}

// DeleteQuizCascading invalidates on both sides of the store delete. The
// second pass discards fills that loaded the quiz while the delete was running.
func (c *QuizCache) DeleteQuizCascading(ctx context.Context, quizID int64) error {
	c.invalidate(quizID)
	defer c.invalidate(quizID)
	return c.Store.DeleteQuizCascading(ctx, quizID)
}

func (c *QuizCache) invalidate(quizID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	delete(c.cache, quizID)
}

func (c *QuizCache) lookup(quizID int64) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return copyQuiz(entry.quiz), true
}

// ttlWithJitter must be called with c.mu held.
func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func copyQuiz(q domain.Quiz) domain.Quiz {
	q.Questions = append([]domain.Question(nil), q.Questions...)
	return q
}

func cacheKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10)
}
