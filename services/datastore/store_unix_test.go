//go:build unix

package datastore

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_DataGroup(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)
	group, err := user.LookupGroupId(current.Gid)
	if err != nil {
		t.Skipf("primary group not resolvable: %v", err)
	}

	s, err := NewStore(t.TempDir(), group.Name, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Upload("dir/file.txt", []byte("x"), false)
	require.NoError(t, err)

	gid, _ := strconv.Atoi(current.Gid)
	for _, p := range []string{"dir", filepath.Join("dir", "file.txt")} {
		info, err := os.Stat(filepath.Join(s.Root(), p))
		require.NoError(t, err)
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			t.Skip("ownership not observable on this platform")
		}
		assert.Equal(t, uint32(gid), st.Gid, p)
	}
}
