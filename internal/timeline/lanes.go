package timeline

// overlaps reports whether the inclusive ranges [a1,a2] and [b1,b2] intersect.
func overlaps(a1, a2, b1, b2 int) bool {
	return !(a2 < b1 || a1 > b2)
}

// AssignRow returns the lowest row that no activity overlapping
// [start, end] occupies.
func AssignRow(existing []Activity, start, end int) int {
	taken := make(map[int]struct{})
	for _, a := range existing {
		if overlaps(a.StartAge, a.EndAge, start, end) {
			taken[a.Row] = struct{}{}
		}
	}
	row := 0
	for {
		if _, ok := taken[row]; !ok {
			return row
		}
		row++
	}
}

// RowCount returns the number of lanes needed to draw the activities.
func RowCount(activities []Activity) int {
	count := 0
	for _, a := range activities {
		if a.Row+1 > count {
			count = a.Row + 1
		}
	}
	return count
}
