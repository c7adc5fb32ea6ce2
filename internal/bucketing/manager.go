package bucketing

import (
	"hash"
	"sync"

	"postal-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// Manager assigns subjects and parcels to consistent hash buckets used as
// Scylla partition key prefixes, keeping partitions bounded.
type Manager struct {
	subjectBuckets int
	parcelBuckets  int
	hasherPool     sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		subjectBuckets: cfg.Bucketing.SubjectBuckets,
		parcelBuckets:  cfg.Bucketing.ParcelBuckets,
	}

	// Pool of hash functions to avoid allocation overhead
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// SubjectBucket returns a consistent bucket in [0, subjectBuckets).
func (m *Manager) SubjectBucket(identifier string) int {
	return m.bucket(identifier, m.subjectBuckets)
}

// ParcelBucket returns a consistent bucket in [0, parcelBuckets).
func (m *Manager) ParcelBucket(id string) int {
	return m.bucket(id, m.parcelBuckets)
}

func (m *Manager) bucket(key string, buckets int) int {
	if buckets <= 1 {
		return 0
	}

	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))

	return int(hasher.Sum64() % uint64(buckets))
}
