package session

import "strings"

// Score counts index-aligned answers that equal the key. Unanswered slots and
// slots past the end of either slice never score.
func Score(answers []*string, correct []string) int {
	n := 0
	for i, a := range answers {
		if a == nil || i >= len(correct) {
			continue
		}
		if strings.TrimSpace(*a) == strings.TrimSpace(correct[i]) {
			n++
		}
	}
	return n
}
