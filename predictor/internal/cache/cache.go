package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

const keyPrefix = "prediction:"

// Key строит ключ кэша: prediction:<model>:<revision>:<sha256 упорядоченного вектора>.
// revision - отпечаток артефакта модели, после замены артефакта старые записи не читаются.
func Key(model, revision string, x []float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return keyPrefix + model + ":" + revision + ":" + hex.EncodeToString(h.Sum(nil))
}

// LRUCache - кэш предсказаний в памяти процесса
type LRUCache struct {
	entries *lru.Cache[string, models.PredictionResult]
}

func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New[string, models.PredictionResult](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(ctx context.Context, model, revision string, x []float64) (models.PredictionResult, bool) {
	return c.entries.Get(Key(model, revision, x))
}

func (c *LRUCache) Set(ctx context.Context, model, revision string, x []float64, result models.PredictionResult) {
	c.entries.Add(Key(model, revision, x), result)
}

func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Tiered - L1 в памяти, L2 в Redis. Попадание в L2 дозаполняет L1.
type Tiered struct {
	l1 *LRUCache
	l2 *RedisCache
}

func NewTiered(l1 *LRUCache, l2 *RedisCache) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

func (t *Tiered) Get(ctx context.Context, model, revision string, x []float64) (models.PredictionResult, bool) {
	if result, ok := t.l1.Get(ctx, model, revision, x); ok {
		return result, true
	}

	result, ok := t.l2.Get(ctx, model, revision, x)
	if ok {
		t.l1.Set(ctx, model, revision, x, result)
	}
	return result, ok
}

func (t *Tiered) Set(ctx context.Context, model, revision string, x []float64, result models.PredictionResult) {
	t.l1.Set(ctx, model, revision, x, result)
	t.l2.Set(ctx, model, revision, x, result)
}
