package pathtagfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pathtagfs "github.com/Varkalandar/path-tag-fs"
)

// TestPersistenceAcrossReopen exercises P7 and scenario 5: after
// flush() followed by a fresh engine's open(), a prior write is still
// readable with identical content.
func TestPersistenceAcrossReopen(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "image.ptf")

	io1, err := pathtagfs.OpenBlockIo(imagePath)
	require.NoError(t, err)

	engine1 := pathtagfs.NewFsEngine(pathtagfs.NewBlockCache(io1))
	require.NoError(t, engine1.Format(4096))

	pathesIno, err := engine1.FindChild(pathtagfs.RootIno, "Pathes")
	require.NoError(t, err)

	file, err := engine1.Mknod(pathesIno, "f", pathtagfs.KindFile)
	require.NoError(t, err)

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	_, err = engine1.Write(file.Attr.Ino, 0, payload)
	require.NoError(t, err)

	require.NoError(t, engine1.Flush())
	require.NoError(t, io1.Close())

	io2, err := pathtagfs.OpenBlockIo(imagePath)
	require.NoError(t, err)
	defer io2.Close()

	engine2 := pathtagfs.NewFsEngine(pathtagfs.NewBlockCache(io2))
	require.NoError(t, engine2.Open(pathtagfs.RootIno))

	reopenedIno, err := engine2.FindChild(pathtagfs.RootIno, "Pathes")
	require.NoError(t, err)
	require.Equal(t, pathesIno, reopenedIno)

	reopenedFileIno, err := engine2.FindChild(reopenedIno, "f")
	require.NoError(t, err)
	require.Equal(t, file.Attr.Ino, reopenedFileIno)

	entry, err := engine2.Getattr(reopenedFileIno)
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), entry.Attr.Size)

	got, err := engine2.Read(entry.MoreData, 0, 3000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 3000)
	require.Equal(t, payload, got[:3000])
}
