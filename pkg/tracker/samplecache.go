package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
)

const sampleCacheKeyPrefix = "sample:trip:"

// SampleCache holds the latest location sample per trip so a broker instance
// that restarts mid-trip can still serve trip_info snapshots. Satisfies
// broker.SampleStore.
type SampleCache struct {
	cache *cache.Cache[string]
}

type cachedSample struct {
	Sample model.LocationSample
}

func (c cachedSample) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

func NewSampleCache() *SampleCache {
	redisStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(90*time.Minute))

	return &SampleCache{
		cache: cache.New[string](redisStore),
	}
}

func (c *SampleCache) Store(sample *model.LocationSample) error {
	encoded, err := json.Marshal(cachedSample{Sample: *sample})
	if err != nil {
		return err
	}

	return c.cache.Set(context.Background(), sampleCacheKeyPrefix+sample.TripIdentifier, string(encoded))
}

func (c *SampleCache) LatestSample(tripID string) *model.LocationSample {
	encoded, err := c.cache.Get(context.Background(), sampleCacheKeyPrefix+tripID)
	if err != nil || encoded == "" {
		return nil
	}

	var decoded cachedSample
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		return nil
	}

	return &decoded.Sample
}
