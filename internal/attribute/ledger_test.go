package attribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkah/chunkah/internal/model"
)

type staticAttributor map[string][]string

func (a staticAttributor) Resolve(path string) ([]string, error) { return a[path], nil }

func TestBuildSharedParentUnionsDescendantComponents(t *testing.T) {
	entries := []model.Entry{
		{Path: "/usr", Kind: model.KindDirectory},
		{Path: "/usr/bin", Kind: model.KindDirectory},
		{Path: "/usr/bin/bash", Kind: model.KindRegular},
		{Path: "/usr/lib", Kind: model.KindDirectory},
		{Path: "/usr/lib/libc.so", Kind: model.KindRegular},
	}
	attr := staticAttributor{
		"/usr/bin/bash":   {"rpm/bash"},
		"/usr/lib/libc.so": {"rpm/glibc"},
	}

	ledger, err := Build(entries, attr)
	require.NoError(t, err)

	assert.Equal(t, "rpm/bash", ledger.Primary["/usr/bin/bash"])
	assert.Equal(t, "rpm/glibc", ledger.Primary["/usr/lib/libc.so"])
	assert.Equal(t, []string{"rpm/bash", "rpm/glibc"}, ledger.DirComponents["/usr"])
	assert.Equal(t, []string{"rpm/bash"}, ledger.DirComponents["/usr/bin"])
}

func TestBuildUnclaimedPathIsUnattributed(t *testing.T) {
	entries := []model.Entry{{Path: "/opt/app", Kind: model.KindRegular}}
	ledger, err := Build(entries, Unattributed{})
	require.NoError(t, err)
	assert.Equal(t, model.Unattributed, ledger.Primary["/opt/app"])
}

func TestBuildMultipleClaimantsPicksLexicallySmallest(t *testing.T) {
	entries := []model.Entry{{Path: "/f", Kind: model.KindRegular}}
	attr := staticAttributor{"/f": {"rpm/zeta", "rpm/alpha"}}
	ledger, err := Build(entries, attr)
	require.NoError(t, err)
	assert.Equal(t, "rpm/alpha", ledger.Primary["/f"])
}

func TestBuildHardlinkGroupCoalescesToSmallestComponent(t *testing.T) {
	devIno := model.DevIno{Dev: 1, Ino: 42}
	entries := []model.Entry{
		{Path: "/usr/share/licenses/pkg-a/LICENSE", Kind: model.KindRegular, DevIno: devIno},
		{Path: "/usr/share/licenses/pkg-b/LICENSE", Kind: model.KindHardlink, DevIno: devIno, LinkTarget: "/usr/share/licenses/pkg-a/LICENSE"},
	}
	attr := staticAttributor{
		"/usr/share/licenses/pkg-a/LICENSE": {"rpm/zzz-pkg"},
		"/usr/share/licenses/pkg-b/LICENSE": {"rpm/aaa-pkg"},
	}

	ledger, err := Build(entries, attr)
	require.NoError(t, err)

	assert.Equal(t, "rpm/aaa-pkg", ledger.Primary["/usr/share/licenses/pkg-a/LICENSE"])
	assert.Equal(t, "rpm/aaa-pkg", ledger.Primary["/usr/share/licenses/pkg-b/LICENSE"])
}

func TestBuildHardlinkGroupJoinsClaimedComponentOverUnattributed(t *testing.T) {
	devIno := model.DevIno{Dev: 1, Ino: 7}
	entries := []model.Entry{
		{Path: "/a", Kind: model.KindRegular, DevIno: devIno},
		{Path: "/b", Kind: model.KindHardlink, DevIno: devIno, LinkTarget: "/a"},
	}
	attr := staticAttributor{"/b": {"rpm/claimed"}}

	ledger, err := Build(entries, attr)
	require.NoError(t, err)

	assert.Equal(t, "rpm/claimed", ledger.Primary["/a"])
	assert.Equal(t, "rpm/claimed", ledger.Primary["/b"])
}
