package attribute

import (
	"path"
	"sort"

	"github.com/chunkah/chunkah/internal/model"
)

// Ledger is the walker's entries plus every path's attribution: the one
// primary component a non-directory entry packs with, and the set of
// components each directory's strict descendants belong to (the
// "shared parent" rule: a directory carried by more than one component
// below it must ship in every layer those components land in).
type Ledger struct {
	Entries []model.Entry

	// Primary maps a non-directory entry's path to the component id it
	// packs with.
	Primary map[string]string

	// DirComponents maps a directory's path to the sorted, deduplicated
	// component ids carried by its strict descendants. A directory with
	// more than one entry here is a shared parent.
	DirComponents map[string][]string
}

// Build resolves every entry against attr and assembles the ledger.
//
// Entries that share a DevIno (hardlinks to the same inode) are
// coalesced onto a single primary component after individual
// resolution: two paths linked to identical content routinely come
// from different packages (a shared license file, a config fragment
// installed by two RPMs), and packing them into different layers would
// split a hardlink pair across layer boundaries, where the link target
// is not present for the runtime to resolve at extraction time.
func Build(entries []model.Entry, attr Attributor) (*Ledger, error) {
	primary := make(map[string]string, len(entries))
	linkGroups := map[model.DevIno][]string{}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		claimants, err := attr.Resolve(e.Path)
		if err != nil {
			return nil, err
		}
		component := model.Unattributed
		if len(claimants) > 0 {
			sorted := append([]string(nil), claimants...)
			sort.Strings(sorted)
			component = sorted[0]
		}
		primary[e.Path] = component

		// A zero DevIno means no inode was recorded for the entry, so it
		// joins no hardlink group.
		if (e.Kind == model.KindRegular || e.Kind == model.KindHardlink) && e.DevIno != (model.DevIno{}) {
			linkGroups[e.DevIno] = append(linkGroups[e.DevIno], e.Path)
		}
	}

	coalesceHardlinkGroups(primary, linkGroups)

	dirSets := map[string]map[string]struct{}{}
	for _, e := range entries {
		if e.IsDir() {
			if _, ok := dirSets[e.Path]; !ok {
				dirSets[e.Path] = map[string]struct{}{}
			}
			continue
		}

		component := primary[e.Path]
		for ancestor := parentOf(e.Path); ancestor != ""; ancestor = parentOf(ancestor) {
			set, ok := dirSets[ancestor]
			if !ok {
				set = map[string]struct{}{}
				dirSets[ancestor] = set
			}
			set[component] = struct{}{}
		}
	}

	dirComponents := make(map[string][]string, len(dirSets))
	for dir, set := range dirSets {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		dirComponents[dir] = ids
	}

	return &Ledger{Entries: entries, Primary: primary, DirComponents: dirComponents}, nil
}

// coalesceHardlinkGroups overwrites primary for every path in a
// multi-member DevIno group with the lexicographically smallest
// primary component claimed by any member of that group, so the whole
// group packs as one unit.
func coalesceHardlinkGroups(primary map[string]string, groups map[model.DevIno][]string) {
	for _, paths := range groups {
		if len(paths) < 2 {
			continue
		}
		winner := primary[paths[0]]
		for _, p := range paths[1:] {
			if primary[p] < winner {
				winner = primary[p]
			}
		}
		for _, p := range paths {
			primary[p] = winner
		}
	}
}

// parentOf returns the parent directory path of p, or "" once p is the
// root.
func parentOf(p string) string {
	if p == "/" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}
