package server

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/YuminosukeSato/churnkit/churn"
	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// predictionCache remembers recent scores so identical submissions skip
// the model. Keys bind the inputs to the artifact that produced the
// score, so a hot reload naturally invalidates every entry.
type predictionCache struct {
	entries *lru.Cache[string, *churn.Prediction]
}

func newPredictionCache(size int) (*predictionCache, error) {
	entries, err := lru.New[string, *churn.Prediction](size)
	if err != nil {
		return nil, kiterrors.Wrap(err, "server: building prediction cache")
	}
	return &predictionCache{entries: entries}, nil
}

func (c *predictionCache) Get(key string) (*churn.Prediction, bool) {
	return c.entries.Get(key)
}

func (c *predictionCache) Add(key string, p *churn.Prediction) {
	c.entries.Add(key, p)
}

// cacheKey hashes the submitted fields in canonical order together with
// the model id. Field order in the request never changes the key.
func cacheKey(modelID string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(modelID))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(fields[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
