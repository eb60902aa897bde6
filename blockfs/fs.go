package blockfs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/dendrascience/dendra-blockstore/store"
	"github.com/dendrascience/dendra-blockstore/util"
)

// Source is the part of the store the view reads from.
type Source interface {
	BlockSize() int64
	List(ctx context.Context) ([]store.ObjectInfo, error)
	Stat(ctx context.Context, file, tag string) (store.ObjectInfo, error)
	Read(ctx context.Context, r store.Request, block, size int64) ([]byte, error)
}

// FS implements fs.FS over a Source.
type FS struct {
	src     Source
	inodes  *util.InodeTable
	logger  *slog.Logger
	mounted time.Time
}

// NewFS creates the view. Inode numbers stay stable for the life of FS.
func NewFS(src Source, logger *slog.Logger) *FS {
	return &FS{
		src:     src,
		inodes:  util.NewInodeTable(),
		logger:  logger,
		mounted: time.Now(),
	}
}

// Root returns the directory listing every file name.
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f}, nil
}

// errno maps store errors onto what the kernel expects.
func (f *FS) errno(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidName):
		return syscall.ENOENT
	case errors.Is(err, store.ErrOutOfBounds):
		return nil
	}
	f.logger.Error("fuse operation failed", "op", op, "error", err)
	return syscall.EIO
}

// Dir is the root directory when file is empty, otherwise the directory
// holding the tags of one file.
type Dir struct {
	fs   *FS
	file string
}

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	if d.file == "" {
		a.Inode = 1
	} else {
		a.Inode = d.fs.inodes.InodeFor("/" + d.file)
	}
	a.Mode = os.ModeDir | 0o555
	a.Mtime = d.fs.mounted
	a.Ctime = d.fs.mounted
	a.Atime = time.Now()
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if d.file == "" {
		objects, err := d.fs.src.List(ctx)
		if err != nil {
			return nil, d.fs.errno("lookup", err)
		}
		for _, o := range objects {
			if o.File == name {
				return &Dir{fs: d.fs, file: name}, nil
			}
		}
		return nil, syscall.ENOENT
	}

	info, err := d.fs.src.Stat(ctx, d.file, name)
	if err != nil {
		return nil, d.fs.errno("lookup", err)
	}
	return &File{fs: d.fs, info: info}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	objects, err := d.fs.src.List(ctx)
	if err != nil {
		return nil, d.fs.errno("readdir", err)
	}

	var dirents []fuse.Dirent
	seen := make(map[string]bool)
	for _, o := range objects {
		if d.file == "" {
			if seen[o.File] {
				continue
			}
			seen[o.File] = true
			dirents = append(dirents, fuse.Dirent{
				Inode: d.fs.inodes.InodeFor("/" + o.File),
				Name:  o.File,
				Type:  fuse.DT_Dir,
			})
			continue
		}
		if o.File != d.file {
			continue
		}
		dirents = append(dirents, fuse.Dirent{
			Inode: d.fs.inodes.InodeFor("/" + o.File + "/" + o.Tag),
			Name:  o.Tag,
			Type:  fuse.DT_File,
		})
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name < dirents[j].Name })
	return dirents, nil
}

// File is one File:Tag. It serves as both node and handle.
type File struct {
	fs   *FS
	info store.ObjectInfo
}

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Inode = f.fs.inodes.InodeFor("/" + f.info.File + "/" + f.info.Tag)
	a.Mode = 0o444
	a.Size = uint64(f.info.Size)
	a.BlockSize = uint32(f.fs.src.BlockSize())
	a.Blocks = uint64(f.info.Size+511) / 512
	a.Mtime = f.fs.mounted
	a.Ctime = f.fs.mounted
	a.Atime = time.Now()
	return nil
}

// Open refuses anything but read-only access.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, syscall.EROFS
	}
	return f, nil
}

// Read serves a byte range by reading every block it touches.
func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	bs := f.fs.src.BlockSize()
	end := min(req.Offset+int64(req.Size), f.info.Size)
	if req.Offset >= end {
		resp.Data = resp.Data[:0]
		return nil
	}

	r := store.Request{File: f.info.File, Tag: f.info.Tag}
	out := make([]byte, 0, end-req.Offset)
	for off := req.Offset; off < end; {
		block := off / bs
		data, err := f.fs.src.Read(ctx, r, block, bs)
		if err != nil {
			if errno := f.fs.errno("read", err); errno != nil {
				return errno
			}
			// The object shrank since Lookup.
			break
		}
		start := off - block*bs
		stop := min(int64(len(data)), end-block*bs)
		out = append(out, data[start:stop]...)
		off = block*bs + stop
	}
	resp.Data = out
	return nil
}

var (
	_ fs.FS                 = (*FS)(nil)
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.Node               = (*File)(nil)
	_ fs.NodeOpener         = (*File)(nil)
	_ fs.HandleReader       = (*File)(nil)
)
