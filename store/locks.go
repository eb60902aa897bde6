package store

import (
	"sync"

	"github.com/dendrascience/dendra-blockstore/util"
)

const (
	lockShards   = 32
	blockStripes = 256
)

type objectKey struct {
	file, tag string
}

func (k objectKey) String() string {
	return k.file + ":" + k.tag
}

func (k objectKey) less(o objectKey) bool {
	if k.file != o.file {
		return k.file < o.file
	}
	return k.tag < o.tag
}

type objectLock struct {
	mu   sync.Mutex
	refs int
}

type lockShard struct {
	mu   sync.Mutex
	held map[objectKey]*objectLock
}

// objectLocks hands out one mutex per File:Tag. Entries exist only while
// somebody holds or waits on them.
type objectLocks struct {
	shards [lockShards]lockShard
}

func newObjectLocks() *objectLocks {
	l := &objectLocks{}
	for i := range l.shards {
		l.shards[i].held = make(map[objectKey]*objectLock)
	}
	return l
}

func (l *objectLocks) shard(key objectKey) *lockShard {
	return &l.shards[util.BucketForKey(key.String(), lockShards)]
}

// lock blocks until key is held and returns the matching unlock.
func (l *objectLocks) lock(key objectKey) func() {
	sh := l.shard(key)
	sh.mu.Lock()
	ol, ok := sh.held[key]
	if !ok {
		ol = &objectLock{}
		sh.held[key] = ol
	}
	ol.refs++
	sh.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		sh.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(sh.held, key)
		}
		sh.mu.Unlock()
	}
}

// lockPair holds two objects, always acquiring them in key order.
func (l *objectLocks) lockPair(a, b objectKey) func() {
	if a == b {
		return l.lock(a)
	}
	if b.less(a) {
		a, b = b, a
	}
	ua := l.lock(a)
	ub := l.lock(b)
	return func() {
		ub()
		ua()
	}
}

// active reports how many objects currently have a lock entry.
func (l *objectLocks) active() int {
	n := 0
	for i := range l.shards {
		l.shards[i].mu.Lock()
		n += len(l.shards[i].held)
		l.shards[i].mu.Unlock()
	}
	return n
}

// stripes serializes content access to physical blocks that may be
// shared: in-place writes and dedup verification of the same block.
type stripes [blockStripes]sync.Mutex

func (s *stripes) of(idx int64) *sync.Mutex {
	return &s[idx%blockStripes]
}
