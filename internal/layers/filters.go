package layers

import "strings"

// Filter names understood by the backend.
const (
	FilterCode     = "code"
	FilterDivision = "division"
)

// FilterState holds the user-chosen query filters. Changing it changes the
// FetchKey of every layer that uses the changed filter.
type FilterState struct {
	StationCode string `json:"code"`
	Division    string `json:"division"`
}

func (f *FilterState) Reset() {
	f.StationCode = ""
	f.Division = ""
}

// Set stores both filters with surrounding space trimmed and inner runs of
// whitespace collapsed, so the FetchKey and the query see the same value.
// It reports whether anything changed.
func (f *FilterState) Set(code, division string) bool {
	code, division = squash(code), squash(division)
	changed := code != f.StationCode || division != f.Division
	f.StationCode, f.Division = code, division
	return changed
}

// Values returns the named filters. Unknown names are ignored.
func (f *FilterState) Values(names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		switch n {
		case FilterCode:
			out[n] = f.StationCode
		case FilterDivision:
			out[n] = f.Division
		}
	}
	return out
}

func squash(v string) string { return strings.Join(strings.Fields(v), " ") }
