package cache

import (
	"fmt"
	"strconv"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ProfileKey is the key of a cached identity record.
func ProfileKey(id string) string { return "profile:" + id }

// SimilarityKey is the key of a memoized score of input against id at the
// record version identified by digest. A score computed from an outdated
// record lands under a digest no current reader asks for.
func SimilarityKey(id string, digest uint64, input string) string {
	return "sim:" + id + ":" + strconv.FormatUint(digest, 16) + ":" + strconv.FormatUint(xxhash.Sum64String(input), 16)
}

// TrustKey is the key of a cached trust list of id filtered by relationship.
func TrustKey(id, relationship string) string {
	return "trust:" + id + ":" + relationship
}

// ContextKey is the key of a cached session context.
func ContextKey(sessionID string) string { return "ctx:" + sessionID }

// GetAs fetches key and asserts its type. A value of the wrong type is a
// cache fault: it is logged, dropped and reported as a miss.
func GetAs[T any](c *Cache, key string) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache read panicked",
				zap.String("key", key),
				zap.Error(fmt.Errorf("%w: %v", identity.ErrCacheFault, r)),
			)
			var zero T
			v, ok = zero, false
		}
	}()

	raw, hit := c.Get(key)
	if !hit {
		return v, false
	}
	v, ok = raw.(T)
	if !ok {
		c.logger.Warn("cache type mismatch",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: got %T", identity.ErrCacheFault, raw)),
		)
		c.Invalidate(key)
		return v, false
	}
	return v, true
}
