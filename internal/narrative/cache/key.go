package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/scenecheck/pkg/scene"
)

// DefaultBucket is the manifest-timestamp granularity of cache keys.
const DefaultBucket = time.Minute

// Key derives the cache key for one validation. The narrative is hashed
// byte for byte: matchers read capitalisation and records carry byte offsets
// into the text, so only identical narratives may share a result. Entity
// order does not matter. Manifest timestamps within the same bucket share a
// key. salt separates results computed under different engine settings.
func Key(narrative string, expected []scene.Entity, ts time.Time, bucket time.Duration, salt string) string {

	ids := scene.IDs(expected)
	slices.Sort(ids)

	var b int64
	if !ts.IsZero() {
		if bucket <= 0 {
			bucket = DefaultBucket
		}
		b = ts.UTC().Truncate(bucket).Unix()
	}

	h := sha256.New()
	h.Write([]byte(narrative))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(b, 10)))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}
