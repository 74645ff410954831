// Package fuseadapter is the thin translation layer between the
// kernel's userspace-filesystem upcall interface and pathtagfs's
// FsEngine (spec.md §1 "out of scope", §6.2). Every method here does
// argument/error translation only; no storage logic lives here.
package fuseadapter

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	pathtagfs "github.com/Varkalandar/path-tag-fs"
)

// Node is one in-memory fs.Inode wrapper around a pathtagfs inode
// number. Lookup/Mkdir/Mknod mint a fresh Node per child; FsEngine
// remains the single source of truth, so Nodes carry no cached state
// beyond their own inode number.
type Node struct {
	fs.Inode

	engine *pathtagfs.FsEngine
	ino    uint64
}

var (
	_ fs.InodeEmbedder  = (*Node)(nil)
	_ fs.NodeLookuper   = (*Node)(nil)
	_ fs.NodeGetattrer  = (*Node)(nil)
	_ fs.NodeSetattrer  = (*Node)(nil)
	_ fs.NodeMkdirer    = (*Node)(nil)
	_ fs.NodeMknoder    = (*Node)(nil)
	_ fs.NodeOpener     = (*Node)(nil)
	_ fs.NodeReader     = (*Node)(nil)
	_ fs.NodeWriter     = (*Node)(nil)
	_ fs.NodeReaddirer  = (*Node)(nil)
	_ fs.NodeUnlinker   = (*Node)(nil)
	_ fs.NodeRmdirer    = (*Node)(nil)
	_ fs.NodeRenamer    = (*Node)(nil)
	_ fs.NodeSymlinker  = (*Node)(nil)
	_ fs.NodeLinker     = (*Node)(nil)
	_ fs.NodeGetxattrer = (*Node)(nil)
	_ fs.NodeSetxattrer = (*Node)(nil)
	_ fs.NodeFsyncer    = (*Node)(nil)
)

func (n *Node) child(ino uint64) *Node {
	return &Node{engine: n.engine, ino: ino}
}

// errno maps a pathtagfs error kind to the nearest kernel-upcall error
// code (spec.md §7's propagation table).
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pathtagfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, pathtagfs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, pathtagfs.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, pathtagfs.ErrNotSupported):
		return syscall.ENOSYS
	case errors.Is(err, pathtagfs.ErrOutOfSpace):
		return syscall.ENOSPC
	case errors.Is(err, pathtagfs.ErrWrongKind), errors.Is(err, pathtagfs.ErrCorrupt):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

func fillAttr(out *fuse.Attr, e *pathtagfs.EntryBlock) {
	out.Ino = e.Attr.Ino
	out.Size = e.Attr.Size
	out.Blocks = e.Attr.Blocks
	out.Mode = pathtagfs.ModeToUnix(e.Mode())
	out.Nlink = e.Attr.NLink
	out.Owner = fuse.Owner{Uid: e.Attr.Uid, Gid: e.Attr.Gid}
	out.Rdev = e.Attr.Rdev
	out.Blksize = e.Attr.BlkSize
	out.SetTimes(&e.Attr.Atime, &e.Attr.Mtime, &e.Attr.Ctime)
}

func fillEntryOut(out *fuse.EntryOut, e *pathtagfs.EntryBlock) {
	out.NodeId = e.Attr.Ino
	out.Attr.Ino = e.Attr.Ino
	fillAttr(&out.Attr, e)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
}

func stableAttrFor(e *pathtagfs.EntryBlock) fs.StableAttr {
	return fs.StableAttr{Mode: pathtagfs.ModeToUnix(e.Mode()), Ino: e.Attr.Ino}
}

func kindFromUnixMode(mode uint32) (pathtagfs.Kind, bool) {
	switch mode & unix.S_IFMT {
	case unix.S_IFIFO:
		return pathtagfs.KindFifo, true
	case unix.S_IFCHR:
		return pathtagfs.KindCharDev, true
	case unix.S_IFBLK:
		return pathtagfs.KindBlockDev, true
	case unix.S_IFDIR:
		return pathtagfs.KindDir, true
	case unix.S_IFREG:
		return pathtagfs.KindFile, true
	case unix.S_IFLNK:
		return pathtagfs.KindSymlink, true
	case unix.S_IFSOCK:
		return pathtagfs.KindSocket, true
	default:
		return 0, false
	}
}

// Lookup implements spec.md §6.2's lookup.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childIno, err := n.engine.FindChild(n.ino, name)
	if err != nil {
		return nil, errno(err)
	}
	entry, err := n.engine.Getattr(childIno)
	if err != nil {
		return nil, errno(err)
	}
	fillEntryOut(out, entry)
	return n.NewInode(ctx, n.child(childIno), stableAttrFor(entry)), 0
}

// Getattr implements spec.md §6.2's getattr.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	entry, err := n.engine.Getattr(n.ino)
	if err != nil {
		return errno(err)
	}
	fillAttr(&out.Attr, entry)
	out.SetTimeout(time.Second)
	return 0
}

// Setattr implements spec.md §6.2's setattr / §4.3.4.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var req pathtagfs.SetattrRequest

	if sz, ok := in.GetSize(); ok {
		req.Size = &sz
	}
	if mode, ok := in.GetMode(); ok {
		perm := mode & 0o777
		req.Perm = &perm
	}
	if uid, ok := in.GetUID(); ok {
		req.Uid = &uid
	}
	if gid, ok := in.GetGID(); ok {
		req.Gid = &gid
	}

	entry, err := n.engine.Setattr(n.ino, req)
	if err != nil {
		return errno(err)
	}
	fillAttr(&out.Attr, entry)
	out.SetTimeout(time.Second)
	return 0
}

// Mkdir implements spec.md §6.2's mkdir, with the name-collision check
// spec.md §4.3.3 assigns to the surface adapter.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if _, err := n.engine.FindChild(n.ino, name); err == nil {
		return nil, syscall.EEXIST
	}

	entry, err := n.engine.Mkdir(n.ino, name)
	if err != nil {
		return nil, errno(err)
	}
	fillEntryOut(out, entry)
	return n.NewInode(ctx, n.child(entry.Attr.Ino), stableAttrFor(entry)), 0
}

// Mknod implements spec.md §6.2's mknod, with the name-collision check
// spec.md §4.3.3 assigns to the surface adapter.
func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if _, err := n.engine.FindChild(n.ino, name); err == nil {
		return nil, syscall.EEXIST
	}
	kind, ok := kindFromUnixMode(mode)
	if !ok {
		return nil, syscall.EINVAL
	}

	entry, err := n.engine.Mknod(n.ino, name, kind)
	if err != nil {
		return nil, errno(err)
	}
	fillEntryOut(out, entry)
	return n.NewInode(ctx, n.child(entry.Attr.Ino), stableAttrFor(entry)), 0
}

// Open implements spec.md §6.2's open: an opaque handle from a
// monotonic counter. The returned FileHandle is nil because every
// subsequent Read/Write is routed by inode number, not by handle.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	_ = n.engine.OpenHandle()
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

// Read implements spec.md §6.2's read. The core FsEngine.Read copies
// whole data blocks; this adapter trims the result to the exact
// requested byte range.
func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	entry, err := n.engine.Getattr(n.ino)
	if err != nil {
		return nil, errno(err)
	}

	data, err := n.engine.Read(entry.MoreData, off, len(dest))
	if err != nil {
		return nil, errno(err)
	}

	start := int(off % pathtagfs.BlockSize)
	if start > len(data) {
		return fuse.ReadResultData(nil), 0
	}
	end := start + len(dest)
	if end > len(data) {
		end = len(data)
	}
	return fuse.ReadResultData(data[start:end]), 0
}

// Write implements spec.md §6.2's write.
func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.engine.Write(n.ino, off, data)
	if err != nil {
		return 0, errno(err)
	}
	return uint32(written), 0
}

// Readdir implements spec.md §6.2's readdir.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.engine.ListChildren(n.ino)
	if err != nil {
		return nil, errno(err)
	}

	list := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		entry, err := n.engine.Getattr(c.Ino)
		if err != nil {
			return nil, errno(err)
		}
		list = append(list, fuse.DirEntry{
			Mode: pathtagfs.ModeToUnix(entry.Mode()),
			Name: c.Name,
			Ino:  c.Ino,
		})
	}
	return fs.NewListDirStream(list), 0
}

// Unimplemented upcalls (spec.md §6.2: "All other standard operations
// ... are explicitly unimplemented and report not-supported").

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.ENOSYS
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.ENOSYS
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.ENOSYS
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.ENOSYS
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.ENOSYS
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	return 0, syscall.ENOSYS
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return syscall.ENOSYS
}

func (n *Node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return syscall.ENOSYS
}

// Root constructs the root Node of the tree, backed by engine.
func Root(engine *pathtagfs.FsEngine) *Node {
	return &Node{engine: engine, ino: pathtagfs.RootIno}
}

// Mount mounts engine's tree at mountPoint (spec.md §6.3's CLI
// surface: --auto_unmount and --allow-root pass straight through as
// mount options).
func Mount(mountPoint string, engine *pathtagfs.FsEngine, autoUnmount, allowRoot bool) (*fuse.Server, error) {
	opts := &fs.Options{}
	if autoUnmount {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "auto_unmount")
	}
	if allowRoot {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "allow_root")
	}

	server, err := fs.Mount(mountPoint, Root(engine), opts)
	if err != nil {
		return nil, fmt.Errorf("pathtagfs: mount %s: %w", mountPoint, err)
	}
	return server, nil
}
