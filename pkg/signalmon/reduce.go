package signalmon

import (
	"sort"

	"github.com/qns-project/qns-core/pkg"
)

// ReduceThresholds implements "threshold reduction (registration
// optimisation)": given a candidate set of unmatched thresholds, group
// them by (access_network, measurement_type) counting occurrences.
// Iterating from the most-common type, if removing all thresholds of
// that type still leaves every group-id represented, those thresholds
// are redundant and may be dropped from registration. Thresholds with no
// group-id (GroupID < 0) are never reducible.
func ReduceThresholds(candidates []pkg.Threshold) []pkg.Threshold {
	type group struct {
		key    pkg.ThresholdKey
		member []pkg.Threshold
	}

	byKey := make(map[pkg.ThresholdKey]*group)
	var order []pkg.ThresholdKey
	for _, t := range candidates {
		k := t.Key()
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			order = append(order, k)
		}
		g.member = append(g.member, t)
	}

	// groupIDs present across the whole candidate set, before any removal.
	allGroupIDs := make(map[int]bool)
	for _, t := range candidates {
		if t.GroupID >= 0 {
			allGroupIDs[t.GroupID] = true
		}
	}

	// iterate key groups from most-common to least-common (stable on ties,
	// preserving first-seen order)
	sort.SliceStable(order, func(i, j int) bool {
		return len(byKey[order[i]].member) > len(byKey[order[j]].member)
	})

	removed := make(map[pkg.ThresholdKey]bool)
	for _, k := range order {
		g := byKey[k]
		if !allReducible(g.member) {
			continue
		}

		remainingGroupIDs := make(map[int]bool)
		for _, ok := range order {
			if removed[ok] || ok == k {
				continue
			}
			for _, t := range byKey[ok].member {
				if t.GroupID >= 0 {
					remainingGroupIDs[t.GroupID] = true
				}
			}
		}

		if sameGroupIDCoverage(allGroupIDs, remainingGroupIDs) {
			removed[k] = true
		}
	}

	var out []pkg.Threshold
	for _, k := range order {
		if removed[k] {
			continue
		}
		out = append(out, byKey[k].member...)
	}
	return out
}

func allReducible(thresholds []pkg.Threshold) bool {
	for _, t := range thresholds {
		if t.GroupID < 0 {
			return false
		}
	}
	return true
}

func sameGroupIDCoverage(all, remaining map[int]bool) bool {
	for id := range all {
		if !remaining[id] {
			return false
		}
	}
	return true
}
