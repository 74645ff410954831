package pathtagfs

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// UnixToMode converts a raw Unix mode_t-style permission+type word (as
// stored in an EntryBlock's attr.perm combined with its kind) into an
// fs.FileMode. Mirrors the teacher's own UnixToMode, sourcing the
// S_IFxxx/S_ISxxx constants from golang.org/x/sys/unix rather than
// redeclaring them locally.
func UnixToMode(mode uint32) fs.FileMode {
	res := fs.FileMode(mode & 0777)

	switch mode & unix.S_IFMT {
	case unix.S_IFCHR:
		res |= fs.ModeCharDevice | fs.ModeDevice
	case unix.S_IFBLK:
		res |= fs.ModeDevice
	case unix.S_IFDIR:
		res |= fs.ModeDir
	case unix.S_IFIFO:
		res |= fs.ModeNamedPipe
	case unix.S_IFLNK:
		res |= fs.ModeSymlink
	case unix.S_IFSOCK:
		res |= fs.ModeSocket
	}

	if mode&unix.S_ISGID == unix.S_ISGID {
		res |= fs.ModeSetgid
	}
	if mode&unix.S_ISUID == unix.S_ISUID {
		res |= fs.ModeSetuid
	}
	if mode&unix.S_ISVTX == unix.S_ISVTX {
		res |= fs.ModeSticky
	}

	return res
}

// ModeToUnix is the inverse of UnixToMode.
func ModeToUnix(mode fs.FileMode) uint32 {
	res := uint32(mode.Perm())

	switch {
	case mode&fs.ModeCharDevice == fs.ModeCharDevice:
		res |= unix.S_IFCHR
	case mode&fs.ModeDevice == fs.ModeDevice:
		res |= unix.S_IFBLK
	case mode&fs.ModeDir == fs.ModeDir:
		res |= unix.S_IFDIR
	case mode&fs.ModeNamedPipe == fs.ModeNamedPipe:
		res |= unix.S_IFIFO
	case mode&fs.ModeSymlink == fs.ModeSymlink:
		res |= unix.S_IFLNK
	case mode&fs.ModeSocket == fs.ModeSocket:
		res |= unix.S_IFSOCK
	default:
		res |= unix.S_IFREG
	}

	if mode&fs.ModeSetgid == fs.ModeSetgid {
		res |= unix.S_ISGID
	}
	if mode&fs.ModeSetuid == fs.ModeSetuid {
		res |= unix.S_ISUID
	}
	if mode&fs.ModeSticky == fs.ModeSticky {
		res |= unix.S_ISVTX
	}

	return res
}

// kindMode returns the fs.FileMode type bits (no permissions) for a
// Kind, the way the teacher's Type.Mode() does for its own Type enum.
func kindMode(k Kind) fs.FileMode {
	switch k {
	case KindDir:
		return fs.ModeDir
	case KindFile:
		return 0
	case KindSymlink:
		return fs.ModeSymlink
	case KindBlockDev:
		return fs.ModeDevice
	case KindCharDev:
		return fs.ModeDevice | fs.ModeCharDevice
	case KindFifo:
		return fs.ModeNamedPipe
	case KindSocket:
		return fs.ModeSocket
	default:
		return fs.ModeIrregular
	}
}

// Mode returns the fs.FileMode (type bits and permission bits
// combined) for this EntryBlock's attributes.
func (e *EntryBlock) Mode() fs.FileMode {
	return kindMode(e.Attr.Kind) | fs.FileMode(e.Attr.Perm&0777)
}
