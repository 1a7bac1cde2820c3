package qcmengine

import (
	"sort"
	"strconv"
	"strings"
)

// ParsePages parses a 1-based page selection expression into a sorted list of
// distinct page numbers:
//
//	""          -> nil (means the whole document)
//	"3"         -> [3]
//	"1-3"       -> [1 2 3]
//	"1,3,5-7"   -> [1 3 5 6 7]
//
// Reversed ranges are swapped, out-of-range and malformed entries are dropped
// silently. maxPages <= 0 means the page count is unknown and no upper bound
// is applied.
func ParsePages(expr string, maxPages int) []int {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}

	inRange := func(p int) bool {
		return p >= 1 && (maxPages <= 0 || p <= maxPages)
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if a, b, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(strings.TrimSpace(a))
			hi, err2 := strconv.Atoi(strings.TrimSpace(b))
			if err1 != nil || err2 != nil {
				continue
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			for p := lo; p <= hi; p++ {
				if inRange(p) {
					set[p] = struct{}{}
				}
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || !inRange(p) {
			continue
		}
		set[p] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
