package usecase

import "strings"

// SplitDisplayUnits splits synthesized text into word-sized display units.
// Every unit after the first carries its separating space, so joining the
// units reproduces content exactly. Empty content yields one empty unit.
func SplitDisplayUnits(content string) []string {
	words := strings.Split(content, " ")
	units := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			units[i] = w
			continue
		}
		units[i] = " " + w
	}
	return units
}
