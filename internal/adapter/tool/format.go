package tool

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// capitalize upper-cases the first letter only: "lightning-rod" -> "Lightning-rod".
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func capitalizeAll(ss []string) string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = capitalize(s)
	}
	return strings.Join(out, ", ")
}

// tenths renders n/10 in shortest form: 4 -> "0.4", 60 -> "6", 105 -> "10.5".
func tenths(n int) string {
	return strconv.FormatFloat(float64(n)/10, 'f', -1, 64)
}

// roundHalfUp rounds half-way cases towards positive infinity.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// orderedCounter counts keys and remembers the order they were first seen.
type orderedCounter struct {
	keys   []string
	counts map[string]int
}

func newOrderedCounter() *orderedCounter {
	return &orderedCounter{counts: make(map[string]int)}
}

func (c *orderedCounter) Add(key string, n int) {
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.counts[key] += n
}

func (c *orderedCounter) Get(key string) int { return c.counts[key] }

func (c *orderedCounter) Len() int { return len(c.keys) }
