package discovery

import "sort"

// SortLookup gives the sort engine access to listing attributes and to the
// straight-line distances of the current anchor search.
type SortLookup struct {
	Snapshot  *Snapshot
	Distances map[int64]float64
}

// Sort returns a new slice with ids ordered by key. Ties always resolve by
// ascending id, so the output is a total order and repeated calls agree.
// The input slice is not modified.
func Sort(ids []int64, key SortKey, lk SortLookup) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)

	get := func(id int64) Listing {
		l, _ := lk.Snapshot.Get(id)
		return l
	}

	var less func(a, b int64) bool
	switch key {
	case SortPriceAsc:
		less = func(a, b int64) bool { return cmpFloat(get(a).Price, get(b).Price, a, b, false) }
	case SortPriceDesc:
		less = func(a, b int64) bool { return cmpFloat(get(a).Price, get(b).Price, a, b, true) }
	case SortCapacityAsc:
		less = func(a, b int64) bool {
			return cmpFloat(float64(get(a).Capacity), float64(get(b).Capacity), a, b, false)
		}
	case SortCapacityDesc:
		less = func(a, b int64) bool {
			return cmpFloat(float64(get(a).Capacity), float64(get(b).Capacity), a, b, true)
		}
	case SortNewest:
		less = func(a, b int64) bool { return a > b }
	case SortOldest:
		less = func(a, b int64) bool { return a < b }
	default:
		// distance; listings without a computed distance go last
		less = func(a, b int64) bool {
			da, oka := lk.Distances[a]
			db, okb := lk.Distances[b]
			switch {
			case oka && okb:
				return cmpFloat(da, db, a, b, false)
			case oka != okb:
				return oka
			default:
				return a < b
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func cmpFloat(x, y float64, idX, idY int64, desc bool) bool {
	if x != y {
		if desc {
			return x > y
		}
		return x < y
	}
	return idX < idY
}
