package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"quiz-server/internal/app"
	"quiz-server/internal/domain"
)

// QuizCache keeps quiz content in Redis and falls back to the wrapped store on
// a miss. Content is stored as JSON: SET quiz:{quizID}:content {json} EX ttl.
// Deletes bump quiz:{quizID}:gen; a fill only writes if the generation it saw
// before loading is still current.
type QuizCache struct {
	app.Store

	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// generationTTL outlives any in-flight fill; quiz ids are never reused.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("quiz deleted during fill")

func NewQuizCache(client *redis.Client, store app.Store, ttl time.Duration) *QuizCache {
	return &QuizCache{
		Store:  store,
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuizWithQuestions(ctx context.Context, quizID int64) (domain.Quiz, error) {
	key := contentKey(quizID)
	if quiz, ok := c.cached(ctx, key); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := c.cached(ctx, key); ok {
			return quiz, nil
		}

		gen, genErr := readGeneration(ctx, c.client, generationKey(quizID))
		quiz, err := c.Store.GetQuizWithQuestions(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if genErr == nil {
			c.fill(ctx, quizID, gen, quiz)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz := result.(domain.Quiz)
	quiz.Questions = append([]domain.Question(nil), quiz.Questions...)
	return quiz, nil
}

// fill writes the snapshot unless a delete bumped the generation since gen was read.
func (c *QuizCache) fill(ctx context.Context, quizID, gen int64, quiz domain.Quiz) {
	ttl := c.ttlWithJitter()
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	key, genKey := contentKey(quizID), generationKey(quizID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		slog.Warn("quiz cache fill failed", "quizId", quizID, "err", err)
	}
}

// DeleteQuizCascading invalidates on both sides of the store delete so a fill
// racing with the delete cannot leave the quiz visible.
func (c *QuizCache) DeleteQuizCascading(ctx context.Context, quizID int64) error {
	_ = c.invalidate(ctx, quizID)
	if err := c.Store.DeleteQuizCascading(ctx, quizID); err != nil {
		return err
	}
	if err := c.invalidate(ctx, quizID); err != nil {
		// The quiz is gone from the store; a stale copy expires with its TTL.
		slog.Warn("quiz cache invalidation failed", "quizId", quizID, "err", err)
	}
	return nil
}

func (c *QuizCache) invalidate(ctx context.Context, quizID int64) error {
	genKey := generationKey(quizID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, contentKey(quizID))
		return nil
	})
	return err
}

func (c *QuizCache) cached(ctx context.Context, key string) (domain.Quiz, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("quiz cache read failed", "key", key, "err", err)
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, g getter, key string) (int64, error) {
	gen, err := g.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func contentKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":content"
}

func generationKey(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":gen"
}
