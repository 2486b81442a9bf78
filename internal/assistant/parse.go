package assistant

import (
	"strconv"
	"strings"
)

type wanted struct {
	Name     string
	Quantity float64
}

var (
	leadIns = []string{
		"please ", "can you ", "could you ", "i need more ", "we need more ", "need more ",
		"add ", "buy ", "remove ", "delete ", "we ran out of ", "i ran out of ", "ran out of ",
		"we're out of ", "we are out of ", "out of ", "we used up ", "used up ", "finished the ",
		"do we have ", "do i have ", "any ",
	}
	trailers = []string{
		" to my shopping list", " to the shopping list", " to my list", " to the list", " to groceries",
		" from my shopping list", " from the shopping list", " from my list", " from the list",
		" please", " left", " in stock", " in the pantry",
	}
	numberWords = map[string]float64{
		"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "some": 1,
	}
)

// parseItems pulls item names out of "add 2 milk, eggs and bread to my list".
func parseItems(text string) []wanted {
	s := normalize(text)
	for changed := true; changed; {
		changed = false
		for _, p := range leadIns {
			if strings.HasPrefix(s, p) {
				s = strings.TrimPrefix(s, p)
				changed = true
			}
		}
	}
	for _, t := range trailers {
		s = strings.TrimSuffix(s, t)
	}

	s = strings.ReplaceAll(s, " and ", ",")
	s = strings.ReplaceAll(s, "&", ",")

	var out []wanted
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		qty := 1.0
		if n, ok := quantity(fields[0]); ok && len(fields) > 1 {
			qty = n
			fields = fields[1:]
		}
		name := strings.Join(fields, " ")
		name = strings.TrimPrefix(name, "the ")
		name = strings.TrimPrefix(name, "our ")
		name = strings.TrimPrefix(name, "my ")
		if name == "" {
			continue
		}
		out = append(out, wanted{Name: name, Quantity: qty})
	}
	return out
}

func quantity(word string) (float64, bool) {
	if n, ok := numberWords[word]; ok {
		return n, true
	}
	n, err := strconv.ParseFloat(word, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// sameItem compares names ignoring case and a trailing plural "s".
func sameItem(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	return a == b || strings.TrimSuffix(a, "s") == strings.TrimSuffix(b, "s")
}
