package merge

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/apexgrid/f1data/internal/model"
)

// Store is the in-memory canonical store: entities and relationship
// records sharded by key hash. Writes to one key always land on one
// shard and take that shard's write lock, giving the single-writer-per-
// key discipline the merge phase needs without a global lock; reads of
// unrelated entities proceed concurrently.
type Store struct {
	shards []*shard
}

type relKey struct {
	kind model.EntityKind
	nk   model.NaturalKey
}

type shard struct {
	mu       sync.RWMutex
	entities map[model.CanonicalKey]*model.CanonicalEntity
	rels     map[relKey]*model.RelationshipRecord
}

// NewStore creates a store with n shards (minimum 1).
func NewStore(n int) *Store {
	if n < 1 {
		n = 1
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{
			entities: make(map[model.CanonicalKey]*model.CanonicalEntity),
			rels:     make(map[relKey]*model.RelationshipRecord),
		}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns the entity for key, if present.
func (s *Store) Get(key model.CanonicalKey) (*model.CanonicalEntity, bool) {
	sh := s.shardFor(string(key))
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entities[key]
	return e, ok
}

// ByKind returns all entities of a kind, sorted by key for stable
// iteration order.
func (s *Store) ByKind(kind model.EntityKind) []*model.CanonicalEntity {
	var out []*model.CanonicalEntity
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entities {
			if e.Kind == kind {
				out = append(out, e)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Relationships returns all relationship records of a kind, sorted by
// natural key.
func (s *Store) Relationships(kind model.EntityKind) []*model.RelationshipRecord {
	var out []*model.RelationshipRecord
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, r := range sh.rels {
			if k.kind == kind {
				out = append(out, r)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Driver != b.Driver {
			return a.Driver < b.Driver
		}
		if a.Race != b.Race {
			return a.Race < b.Race
		}
		return a.Ordinal < b.Ordinal
	})
	return out
}

// UpdateEntity runs fn under the key's shard write lock, creating the
// entity first if it does not exist. This is the only way entities are
// mutated.
func (s *Store) UpdateEntity(key model.CanonicalKey, kind model.EntityKind, fn func(*model.CanonicalEntity) error) error {
	sh := s.shardFor(string(key))
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entities[key]
	if !ok {
		e = model.NewCanonicalEntity(key, kind)
		sh.entities[key] = e
	}
	return fn(e)
}

// UpdateRelationship is UpdateEntity for relationship records; the shard
// is chosen by the natural key so duplicates from different sources merge
// into exactly one logical record per tuple.
func (s *Store) UpdateRelationship(kind model.EntityKind, nk model.NaturalKey, fn func(*model.RelationshipRecord) error) error {
	rk := relKey{kind: kind, nk: nk}
	sh := s.shardFor(string(kind) + "|" + nk.String())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rels[rk]
	if !ok {
		r = model.NewRelationshipRecord(kind, nk)
		sh.rels[rk] = r
	}
	return fn(r)
}

// Counts returns total entity and relationship record counts.
func (s *Store) Counts() (entities, relationships int) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		entities += len(sh.entities)
		relationships += len(sh.rels)
		sh.mu.RUnlock()
	}
	return entities, relationships
}
