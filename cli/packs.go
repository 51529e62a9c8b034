package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// maxPackRange bounds a single "a-b" expansion.
const maxPackRange = 1000

// ParsePackList expands entries such as "12", "#45", "12,45" and "50-52"
// into pack numbers, keeping first-seen order and dropping repeats.
func ParsePackList(specs []string) ([]int, error) {
	var out []int
	seen := make(map[int]struct{})
	add := func(n int) {
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	for _, spec := range specs {
		for _, token := range strings.Split(spec, ",") {
			token = strings.TrimPrefix(strings.TrimSpace(token), "#")
			if token == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(token, "-")
			if !isRange {
				n, err := parsePack(token)
				if err != nil {
					return nil, err
				}
				add(n)
				continue
			}
			from, err := parsePack(strings.TrimPrefix(strings.TrimSpace(lo), "#"))
			if err != nil {
				return nil, err
			}
			to, err := parsePack(strings.TrimPrefix(strings.TrimSpace(hi), "#"))
			if err != nil {
				return nil, err
			}
			if to < from {
				return nil, fmt.Errorf("pack range %q is reversed", token)
			}
			if to-from >= maxPackRange {
				return nil, fmt.Errorf("pack range %q spans more than %d packs", token, maxPackRange)
			}
			for n := from; n <= to; n++ {
				add(n)
			}
		}
	}
	return out, nil
}

func parsePack(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid pack number %q", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("pack number %d must be positive", n)
	}
	return n, nil
}
