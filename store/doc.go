// Package store implements the djbs block store: a fixed pool of
// equally sized physical blocks shared by named File:Tag objects.
//
// Layout under the storage root:
//
//	store.config                               geometry descriptor (JSON)
//	bitmap.bin                                 allocation bitmap, one bit per block
//	physical_blocks/blockNNNN.dat              one file per physical block
//	blocks_hash_index.config                   digest -> canonical block (CBOR)
//	files/<file>/<tag>/metadata.config         size, state, block list (JSON)
//	files/<file>/<tag>/logical_blocks/NNNNNN.dat   hard links into physical_blocks
//
// Physical block 0 is the shared zero block. Newly grown logical blocks
// point at it and are copied on first write. Any block referenced by more
// than one logical slot is copied on write; an exclusively owned block is
// rewritten in place through a shared memory mapping.
//
// Ownership is tracked with an in-memory atomic counter per block which is
// rebuilt from the metadata records when an existing store is attached.
// The hard links are kept so the on-disk tree can be inspected and is
// cross-checked by Validate.
//
// Commit fingerprints every block of an object and folds blocks with
// identical content onto one canonical block recorded in the hash index.
// An index entry is trusted only after the canonical block has been pinned
// and rehashed, so entries left behind by released or rewritten blocks
// are replaced rather than followed.
//
// Operations on one File:Tag are serialized by a per-object lock;
// operations on different objects run in parallel.
package store
