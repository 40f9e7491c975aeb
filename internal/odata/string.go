package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FilterString renders a filter tree back into OData text. It is used by
// the LINQ translator (§4.G) to serialize the query tree it builds, and
// by the pull driver (§4.L) to compose the watermark filter.
func FilterString(n Node) string {
	if n == nil {
		return ""
	}
	switch v := n.(type) {
	case ConstantNode:
		return constantString(v)
	case MemberAccessNode:
		return v.Name
	case UnaryNode:
		if v.Op == "not" {
			return fmt.Sprintf("not (%s)", FilterString(v.Operand))
		}
		return fmt.Sprintf("-%s", FilterString(v.Operand))
	case BinaryNode:
		return fmt.Sprintf("(%s %s %s)", FilterString(v.Left), v.Op, FilterString(v.Right))
	case InNode:
		parts := make([]string, len(v.Values))
		for i, val := range v.Values {
			parts[i] = FilterString(val)
		}
		return fmt.Sprintf("%s in (%s)", FilterString(v.Target), strings.Join(parts, ", "))
	case FunctionCallNode:
		parts := make([]string, len(v.Args))
		for i, a := range v.Args {
			parts[i] = FilterString(a)
		}
		return fmt.Sprintf("%s(%s)", v.Name, strings.Join(parts, ","))
	case ConvertNode:
		if c, ok := v.Operand.(ConstantNode); ok && c.Value != nil && c.EdmType == v.EdmType {
			switch c.EdmType {
			case "Date", "TimeOfDay", "DateTimeOffset", "Guid":
				return constantString(c)
			}
		}
		return fmt.Sprintf("cast(%s,Edm.%s)", FilterString(v.Operand), v.EdmType)
	default:
		return ""
	}
}

func constantString(c ConstantNode) string {
	if c.Value == nil {
		return "null"
	}
	switch c.EdmType {
	case "String":
		return "'" + strings.ReplaceAll(c.Value.(string), "'", "''") + "'"
	case "Boolean":
		if c.Value.(bool) {
			return "true"
		}
		return "false"
	case "Decimal":
		return strconv.FormatFloat(c.Value.(float64), 'f', -1, 64) + "M"
	case "Double":
		return strconv.FormatFloat(c.Value.(float64), 'f', -1, 64)
	case "Int32", "Int64":
		return fmt.Sprintf("%d", c.Value)
	case "Date":
		return fmt.Sprintf("cast(%s,Edm.Date)", c.Value.(time.Time).Format("2006-01-02"))
	case "TimeOfDay":
		d := time.Duration(c.Value.(TimeOfDay))
		return fmt.Sprintf("cast(%02d:%02d:%02d,Edm.TimeOfDay)", int(d.Hours())%24, int(d.Minutes())%60, int(d.Seconds())%60)
	case "DateTimeOffset":
		return fmt.Sprintf("cast(%s,Edm.DateTimeOffset)", c.Value.(time.Time).UTC().Format(time.RFC3339Nano))
	case "Guid":
		return fmt.Sprintf("cast(%s,Edm.Guid)", c.Value.(uuid.UUID).String())
	default:
		return fmt.Sprintf("%v", c.Value)
	}
}

// OrderByString renders an $orderby clause list back to text.
func OrderByString(clauses []OrderByNode) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		if c.Descending {
			parts[i] = c.Member + " desc"
		} else {
			parts[i] = c.Member + " asc"
		}
	}
	return strings.Join(parts, ",")
}

// Encode renders QueryOptions back into a URL query string. $skip and
// $top are written as given (the caller is responsible for having
// already applied any tie-break accumulation); this is primarily used to
// build a server nextLink (spec.md §4.C step 5).
//
// Every parameter value is percent-encoded before it is joined onto the
// query string: FilterString/OrderByString render human-readable OData
// text (spaces, quotes, parentheses) that is not itself valid inside a
// URL, so it must go through url.QueryEscape the same way
// internal/client/client.go's count() escapes a raw filter string.
func (o *QueryOptions) Encode() string {
	var parts []string
	if o.Filter != nil {
		parts = append(parts, "$filter="+url.QueryEscape(FilterString(o.Filter)))
	}
	if len(o.OrderBy) > 0 {
		parts = append(parts, "$orderby="+url.QueryEscape(OrderByString(o.OrderBy)))
	}
	if len(o.Select) > 0 {
		parts = append(parts, "$select="+url.QueryEscape(strings.Join(o.Select, ",")))
	}
	if o.HasSkip || o.Skip > 0 {
		parts = append(parts, fmt.Sprintf("$skip=%d", o.Skip))
	}
	if o.HasTop {
		parts = append(parts, fmt.Sprintf("$top=%d", o.Top))
	}
	if o.Count {
		parts = append(parts, "$count=true")
	}
	if o.IncludeDeleted {
		parts = append(parts, "__includedeleted=true")
	}
	return strings.Join(parts, "&")
}
