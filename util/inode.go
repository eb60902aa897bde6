package util

import (
	"sync"
)

// firstInode is handed out first; FUSE reserves 1 for the mount root.
const firstInode = 2

// InodeTable assigns stable inode numbers to names. A name keeps its inode
// for the lifetime of the table so the kernel never sees a File:Tag change
// identity between lookups.
type InodeTable struct {
	mu      sync.Mutex
	highest uint64
	byName  map[string]uint64
	byInode map[uint64]string
}

// NewInodeTable creates an empty table.
func NewInodeTable() *InodeTable {
	return &InodeTable{
		highest: firstInode - 1,
		byName:  make(map[string]uint64),
		byInode: make(map[uint64]string),
	}
}

// GetNewInode returns an inode number that has never been handed out.
func (t *InodeTable) GetNewInode() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.highest++
	return t.highest
}

// InodeFor returns the inode registered for name, registering a new one
// on first use.
func (t *InodeTable) InodeFor(name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inode, ok := t.byName[name]; ok {
		return inode
	}
	t.highest++
	t.byName[name] = t.highest
	t.byInode[t.highest] = name
	return t.highest
}

// SetInode raises the counter so that the next inode is above inode.
// Lower values are ignored.
func (t *InodeTable) SetInode(inode uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inode > t.highest {
		t.highest = inode
	}
}

// NameFromInode looks up the name an inode was registered for.
func (t *InodeTable) NameFromInode(inode uint64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.byInode[inode]
	if !ok {
		return "", ErrInodeNotFound
	}
	return name, nil
}
