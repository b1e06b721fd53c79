package safety

import "strings"

// Similarity is the Jaccard index of the lowercase whitespace-separated word sets of a and b.
// Two texts without words are identical.
func Similarity(a, b string) float64 {
	left := wordSet(a)
	right := wordSet(b)

	if len(left) == 0 && len(right) == 0 {
		return 1
	}

	intersection := 0

	for word := range left {
		if _, ok := right[word]; ok {
			intersection++
		}
	}

	union := len(left) + len(right) - intersection

	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))

	for _, word := range words {
		set[word] = struct{}{}
	}

	return set
}
