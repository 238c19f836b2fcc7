package sassplay

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestions bounds the candidates attached to a SymbolNotFoundError.
const maxSuggestions = 3

// SuggestEntries ranks entries by edit distance to name and returns at most
// limit of them. Entries sharing nothing with name are dropped.
func SuggestEntries(name string, entries []string, limit int) []string {
	type scored struct {
		name string
		dist int
	}
	target := strings.ToLower(name)
	cands := make([]scored, 0, len(entries))
	for _, e := range entries {
		d := levenshtein.ComputeDistance(target, strings.ToLower(demangledName(e)))
		longest := len(target)
		if len(e) > longest {
			longest = len(e)
		}
		if d >= longest {
			continue
		}
		cands = append(cands, scored{name: e, dist: d})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// resolveEntry finds name among the module's entries. An unmangled name also
// matches a single Itanium-mangled entry carrying it (_Z<len><name>...).
func resolveEntry(mod Module, name string) (Function, error) {
	entries := mod.Entries()
	for _, e := range entries {
		if e == name {
			return mod.Function(e)
		}
	}
	var mangled []string
	for _, e := range entries {
		if demangledName(e) == name {
			mangled = append(mangled, e)
		}
	}
	if len(mangled) == 1 {
		return mod.Function(mangled[0])
	}
	return nil, &SymbolNotFoundError{
		Name:       name,
		Candidates: SuggestEntries(name, entries, maxSuggestions),
	}
}

// demangledName extracts the function name from a simple _Z<len><name>
// mangling and returns other names unchanged.
func demangledName(sym string) string {
	if !strings.HasPrefix(sym, "_Z") {
		return sym
	}
	rest := sym[2:]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return sym
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil || i+n > len(rest) {
		return sym
	}
	return rest[i : i+n]
}
