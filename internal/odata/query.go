package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPageSize is the page size applied when $top is absent, per
// spec.md §4.B.
const DefaultPageSize = 100

// ParseQueryOptions parses the full OData-subset query string (spec.md
// §4.B) from already-decoded url.Values. Chained occurrences of the
// same parameter follow the documented tie-break rules: $skip
// accumulates, $top takes the minimum, $orderby and $select preserve
// order of appearance and concatenate, and repeated $filter values are
// ANDed together.
func ParseQueryOptions(values url.Values) (*QueryOptions, error) {
	opts := &QueryOptions{Top: DefaultPageSize}

	if filters := values["$filter"]; len(filters) > 0 {
		var combined Node
		for _, f := range filters {
			if strings.TrimSpace(f) == "" {
				continue
			}
			n, err := ParseFilter(f)
			if err != nil {
				return nil, err
			}
			if combined == nil {
				combined = n
			} else {
				combined = BinaryNode{Op: "and", Left: combined, Right: n}
			}
		}
		opts.Filter = combined
	}

	if orderbys := values["$orderby"]; len(orderbys) > 0 {
		for _, raw := range orderbys {
			clauses, err := parseOrderBy(raw)
			if err != nil {
				return nil, err
			}
			opts.OrderBy = append(opts.OrderBy, clauses...)
		}
	}

	if selects := values["$select"]; len(selects) > 0 {
		for _, raw := range selects {
			for _, field := range strings.Split(raw, ",") {
				field = strings.TrimSpace(field)
				if field != "" {
					opts.Select = append(opts.Select, field)
				}
			}
		}
	}

	if skips := values["$skip"]; len(skips) > 0 {
		total := 0
		for _, raw := range skips {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("odata: bad request: invalid $skip %q", raw)
			}
			total += n
		}
		opts.Skip = total
		opts.HasSkip = true
	}

	if tops := values["$top"]; len(tops) > 0 {
		min := -1
		for _, raw := range tops {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("odata: bad request: invalid $top %q", raw)
			}
			if min < 0 || n < min {
				min = n
			}
		}
		opts.Top = min
		opts.HasTop = true
	}

	if counts := values["$count"]; len(counts) > 0 {
		b, err := strconv.ParseBool(counts[len(counts)-1])
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid $count %q", counts[len(counts)-1])
		}
		opts.Count = b
	}

	if includeDeleted := values["__includedeleted"]; len(includeDeleted) > 0 {
		b, err := strconv.ParseBool(includeDeleted[len(includeDeleted)-1])
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid __includedeleted %q", includeDeleted[len(includeDeleted)-1])
		}
		opts.IncludeDeleted = b
	}

	return opts, nil
}

func parseOrderBy(raw string) ([]OrderByNode, error) {
	var out []OrderByNode
	for _, clause := range strings.Split(raw, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		fields := strings.Fields(clause)
		switch len(fields) {
		case 1:
			out = append(out, OrderByNode{Member: fields[0]})
		case 2:
			dir := strings.ToLower(fields[1])
			switch dir {
			case "asc":
				out = append(out, OrderByNode{Member: fields[0]})
			case "desc":
				out = append(out, OrderByNode{Member: fields[0], Descending: true})
			default:
				return nil, fmt.Errorf("odata: bad request: invalid $orderby direction %q", fields[1])
			}
		default:
			return nil, fmt.Errorf("odata: bad request: invalid $orderby clause %q", clause)
		}
	}
	return out, nil
}
