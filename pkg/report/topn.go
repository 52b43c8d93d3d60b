package report

import (
	"fmt"
	"sort"
)

// TopErrorTypes returns the n most frequent error types among the failed
// files, formatted as "type:count" (e.g. "timeout:4"). Ties sort by name.
func (r *Report) TopErrorTypes(n int) []string {
	return TopCounts(r.ErrorTypeCounts(), n)
}

// ErrorTypeCounts counts failed files per error type.
func (r *Report) ErrorTypeCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Failed {
		counts[f.ErrorType]++
	}
	return counts
}

// TopCounts returns the top n entries of counts as "key:count" strings,
// highest count first.
func TopCounts(counts map[string]int, n int) []string {
	type kv struct {
		Key   string
		Value int
	}

	ss := make([]kv, 0, len(counts))
	for k, v := range counts {
		ss = append(ss, kv{k, v})
	}
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Value != ss[j].Value {
			return ss[i].Value > ss[j].Value
		}
		return ss[i].Key < ss[j].Key
	})

	limit := n
	if len(ss) < n {
		limit = len(ss)
	}
	if limit < 0 {
		limit = 0
	}

	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = fmt.Sprintf("%s:%d", ss[i].Key, ss[i].Value)
	}
	return out
}
