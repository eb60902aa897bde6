// Package blockfs exposes a djbs store as a read-only FUSE filesystem.
//
// The tree has two levels:
//
//	/<file>/<tag>
//
// Each File:Tag appears as a regular file whose size is the object size.
// Reads go through the store's read path one block at a time, so the
// view reflects live content, including work-in-progress objects.
//
// The filesystem is mounted with bazil.org/fuse; see internal/cmd mount.
package blockfs
