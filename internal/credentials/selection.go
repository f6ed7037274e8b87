package credentials

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidSelection is returned for selection expressions that cannot be
// parsed or reference indices out of range.
type ErrInvalidSelection struct {
	Expr   string
	Reason string
}

func (e *ErrInvalidSelection) Error() string {
	return fmt.Sprintf("invalid selection %q: %s", e.Expr, e.Reason)
}

// ErrInvalidRange is returned for reversed ranges such as "5-3".
type ErrInvalidRange struct {
	Expr string
}

func (e *ErrInvalidRange) Error() string {
	return fmt.Sprintf("invalid range %q: start is greater than end", e.Expr)
}

// ParseSelection parses a 1-based selection expression against n available
// entries. Supported forms: "3", "1,3,5", "1-5", "1,3-5,7", "all", and the
// empty string (equivalent to "all"). The result is sorted ascending with
// duplicates removed; every index is within [1..n].
func ParseSelection(expr string, n int) ([]int, error) {
	if n <= 0 {
		return nil, &ErrInvalidSelection{Expr: expr, Reason: "nothing to select from"}
	}
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "all") {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	seen := make(map[int]struct{})
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, &ErrInvalidSelection{Expr: expr, Reason: "empty token"}
		}
		if strings.Contains(tok, "-") {
			parts := strings.SplitN(tok, "-", 2)
			lo, err := parseIndex(parts[0], expr, n)
			if err != nil {
				return nil, err
			}
			hi, err := parseIndex(parts[1], expr, n)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, &ErrInvalidRange{Expr: tok}
			}
			for i := lo; i <= hi; i++ {
				seen[i] = struct{}{}
			}
			continue
		}
		idx, err := parseIndex(tok, expr, n)
		if err != nil {
			return nil, err
		}
		seen[idx] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

func parseIndex(tok, expr string, n int) (int, error) {
	tok = strings.TrimSpace(tok)
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, &ErrInvalidSelection{Expr: expr, Reason: fmt.Sprintf("non-numeric token %q", tok)}
	}
	if idx < 1 || idx > n {
		return 0, &ErrInvalidSelection{Expr: expr, Reason: fmt.Sprintf("index %d out of range [1..%d]", idx, n)}
	}
	return idx, nil
}
