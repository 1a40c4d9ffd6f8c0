package source

import "strings"

// Filter keeps items whose text mentions an include keyword and none of
// the exclude keywords. An empty include list keeps everything not excluded.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter creates a case-insensitive keyword filter.
func NewFilter(includeKeywords, excludeKeywords []string) *Filter {
	return &Filter{
		include: lowerAll(includeKeywords),
		exclude: lowerAll(excludeKeywords),
	}
}

// Matches reports whether text passes the filter.
func (f *Filter) Matches(text string) bool {
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, kw := range f.include {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, strings.ToLower(kw))
	}
	return out
}
