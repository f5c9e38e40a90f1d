package scan

// SegmentPages partitions an ordered list of page indices into document
// groups. The groups are non-empty, non-overlapping, index-ascending and
// concatenate back to the input.
//
// A nil policy, type "none", a malformed page_count, or an unsupported
// policy kind all yield a single group holding everything. page_count
// with N>0 yields consecutive chunks of N; the last may be shorter.
func SegmentPages(pages []int, policy *BreakPolicy) [][]int {
	if len(pages) == 0 {
		return nil
	}
	if policy == nil || policy.Type != BreakPageCount || policy.PageCount <= 0 {
		group := make([]int, len(pages))
		copy(group, pages)
		return [][]int{group}
	}

	n := policy.PageCount
	var groups [][]int
	for start := 0; start < len(pages); start += n {
		end := start + n
		if end > len(pages) {
			end = len(pages)
		}
		group := make([]int, end-start)
		copy(group, pages[start:end])
		groups = append(groups, group)
	}
	return groups
}
