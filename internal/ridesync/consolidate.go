package ridesync

import (
	"sort"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// MergePartitions concatenates partition results in the order given, drops
// records that are no longer active, keeps the first occurrence of every id
// and sorts the result by id descending.
func MergePartitions(parts ...[]models.RideRecord) []models.RideRecord {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	seen := make(map[int64]struct{}, n)
	out := make([]models.RideRecord, 0, n)
	for _, p := range parts {
		for _, r := range p {
			if !r.Status.Active() {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// RemoveRide returns a new list without id. The input is never modified, so
// a list already handed to readers stays valid.
func RemoveRide(list []models.RideRecord, id int64) ([]models.RideRecord, bool) {
	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return list, false
	}
	out := make([]models.RideRecord, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	return out, true
}
