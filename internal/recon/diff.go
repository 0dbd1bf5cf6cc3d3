package recon

import "sort"

// OrphanRecord identifies an indexed point whose source document no longer
// exists on disk. Transient: computed during one pass, discarded after the
// delete is issued.
type OrphanRecord struct {
	PointID        any
	NormalizedPath string
}

// ComputeDiff compares the indexed path set against the on-disk set.
// indexed maps each normalized path to the point IDs stored under it (a
// document usually has several chunk points). missing is on disk but not
// indexed; orphans are indexed but gone from disk.
func ComputeDiff(indexed map[string][]any, disk map[string]struct{}) (missing []string, orphans []OrphanRecord) {
	for p := range disk {
		if _, ok := indexed[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)

	orphanPaths := make([]string, 0)
	for p := range indexed {
		if _, ok := disk[p]; !ok {
			orphanPaths = append(orphanPaths, p)
		}
	}
	sort.Strings(orphanPaths)
	for _, p := range orphanPaths {
		for _, id := range indexed[p] {
			orphans = append(orphans, OrphanRecord{PointID: id, NormalizedPath: p})
		}
	}
	return missing, orphans
}
