// Package linqbuilder is the client-side translator of spec.md §4.G: it
// turns a fluent query description into the same odata.Node/QueryOptions
// tree the server-side parser in internal/odata produces, then
// serializes it with odata.FilterString/QueryOptions.Encode so the
// wire format is identical regardless of which side produced it.
//
// Go has no expression trees, so there is nothing to "partially
// evaluate" the way a real LINQ provider must: every value passed to a
// predicate helper below is already a Go constant at the call site,
// which is exactly the partial-evaluation rule's end state. What this
// package reproduces instead is the rest of §4.G — the supported
// clause set (Where, OrderBy/OrderByDescending, ThenBy/ThenByDescending,
// Select, Skip, Take), their chaining/tie-break semantics, and the
// case-sensitive-vs-insensitive string comparison compilation rule.
package linqbuilder

import (
	"fmt"
	"time"

	"github.com/erauner12/datasync/internal/odata"
	"github.com/google/uuid"
)

// requiredFields are added to every non-empty $select list automatically
// (spec.md §4.G "required for deserialization"): a client deserializing
// a projected entity still needs its four reserved metadata fields.
var requiredFields = []string{"id", "updatedAt", "version", "deleted"}

// Query builds a QueryOptions through method chaining. The zero value
// (via New) has no filter, no ordering, and the server's default page
// size.
type Query struct {
	opts odata.QueryOptions
}

// New starts an empty query.
func New() *Query {
	return &Query{}
}

// Where ANDs pred into the query's filter. Calling Where more than once
// ANDs every call together, matching chained LINQ .Where().Where(...).
func (q *Query) Where(pred odata.Node) *Query {
	if pred == nil {
		return q
	}
	if q.opts.Filter == nil {
		q.opts.Filter = pred
	} else {
		q.opts.Filter = odata.BinaryNode{Op: "and", Left: q.opts.Filter, Right: pred}
	}
	return q
}

// OrderBy appends an ascending ordering clause. OrderBy/OrderByDescending
// and ThenBy/ThenByDescending are identical in effect — spec.md §4.G
// requires only that clauses preserve call order, which a single
// append-only list already guarantees.
func (q *Query) OrderBy(field string) *Query { return q.orderBy(field, false) }

// OrderByDescending appends a descending ordering clause.
func (q *Query) OrderByDescending(field string) *Query { return q.orderBy(field, true) }

// ThenBy appends a secondary ascending ordering clause.
func (q *Query) ThenBy(field string) *Query { return q.orderBy(field, false) }

// ThenByDescending appends a secondary descending ordering clause.
func (q *Query) ThenByDescending(field string) *Query { return q.orderBy(field, true) }

func (q *Query) orderBy(field string, desc bool) *Query {
	q.opts.OrderBy = append(q.opts.OrderBy, odata.OrderByNode{Member: field, Descending: desc})
	return q
}

// Select sets the projection. The four reserved metadata fields are
// added automatically if not already present, per spec.md §4.G.
func (q *Query) Select(fields ...string) *Query {
	seen := make(map[string]bool, len(fields)+len(requiredFields))
	out := make([]string, 0, len(fields)+len(requiredFields))
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range fields {
		add(f)
	}
	for _, f := range requiredFields {
		add(f)
	}
	q.opts.Select = out
	return q
}

// Skip accumulates across chained calls, matching the §4.B tie-break
// rule the server parser also applies.
func (q *Query) Skip(n int) *Query {
	q.opts.Skip += n
	q.opts.HasSkip = true
	return q
}

// Take takes the minimum across chained calls, matching $top's
// tie-break rule.
func (q *Query) Take(n int) *Query {
	if !q.opts.HasTop || n < q.opts.Top {
		q.opts.Top = n
	}
	q.opts.HasTop = true
	return q
}

// IncludeDeleted sets __includedeleted=true.
func (q *Query) IncludeDeleted() *Query {
	q.opts.IncludeDeleted = true
	return q
}

// Count requests $count=true.
func (q *Query) Count() *Query {
	q.opts.Count = true
	return q
}

// Build returns the assembled QueryOptions tree.
func (q *Query) Build() *odata.QueryOptions {
	built := q.opts
	return &built
}

// String renders the query as a URL query string via the same Encode
// the server uses to build nextLink, so a client and the server always
// agree on wire format.
func (q *Query) String() string {
	return q.Build().Encode()
}

// --- predicate helpers: build odata.Node trees from Go constants ---

// Field references an entity field by name.
func Field(name string) odata.Node { return odata.MemberAccessNode{Name: name} }

// Const wraps a Go value as a constant node, inferring its EDM type.
// time.Time and uuid.UUID compile to the documented cast(...) forms.
func Const(v any) odata.Node {
	switch val := v.(type) {
	case nil:
		return odata.ConstantNode{Value: nil}
	case string:
		return odata.ConstantNode{Value: val, EdmType: "String"}
	case bool:
		return odata.ConstantNode{Value: val, EdmType: "Boolean"}
	case int:
		return odata.ConstantNode{Value: val, EdmType: "Int32"}
	case int32:
		return odata.ConstantNode{Value: val, EdmType: "Int32"}
	case int64:
		return odata.ConstantNode{Value: val, EdmType: "Int64"}
	case float32:
		return odata.ConstantNode{Value: float64(val), EdmType: "Double"}
	case float64:
		return odata.ConstantNode{Value: val, EdmType: "Double"}
	case time.Time:
		return odata.ConstantNode{Value: val.UTC(), EdmType: "DateTimeOffset"}
	case uuid.UUID:
		return odata.ConstantNode{Value: val, EdmType: "Guid"}
	default:
		return odata.ConstantNode{Value: fmt.Sprintf("%v", val), EdmType: "String"}
	}
}

func compare(op, field string, v any) odata.Node {
	return odata.BinaryNode{Op: op, Left: Field(field), Right: Const(v)}
}

func Eq(field string, v any) odata.Node { return compare("eq", field, v) }
func Ne(field string, v any) odata.Node { return compare("ne", field, v) }
func Gt(field string, v any) odata.Node { return compare("gt", field, v) }
func Ge(field string, v any) odata.Node { return compare("ge", field, v) }
func Lt(field string, v any) odata.Node { return compare("lt", field, v) }
func Le(field string, v any) odata.Node { return compare("le", field, v) }

// EqIgnoreCase compiles a case-insensitive string comparison to
// tolower(field) eq tolower('value'), per spec.md §4.G's rule for
// culture-insensitive string equality.
func EqIgnoreCase(field, value string) odata.Node {
	return odata.BinaryNode{
		Op:    "eq",
		Left:  odata.FunctionCallNode{Name: "tolower", Args: []odata.Node{Field(field)}},
		Right: odata.FunctionCallNode{Name: "tolower", Args: []odata.Node{Const(value)}},
	}
}

// And combines two predicates with a logical AND.
func And(a, b odata.Node) odata.Node { return odata.BinaryNode{Op: "and", Left: a, Right: b} }

// Or combines two predicates with a logical OR.
func Or(a, b odata.Node) odata.Node { return odata.BinaryNode{Op: "or", Left: a, Right: b} }

// Not negates a predicate.
func Not(a odata.Node) odata.Node { return odata.UnaryNode{Op: "not", Operand: a} }

// StartsWith compiles startswith(field,'prefix').
func StartsWith(field, prefix string) odata.Node {
	return odata.FunctionCallNode{Name: "startswith", Args: []odata.Node{Field(field), Const(prefix)}}
}

// EndsWith compiles endswith(field,'suffix').
func EndsWith(field, suffix string) odata.Node {
	return odata.FunctionCallNode{Name: "endswith", Args: []odata.Node{Field(field), Const(suffix)}}
}

// In compiles `field in (v1, v2, ...)`.
func In(field string, values ...any) odata.Node {
	nodes := make([]odata.Node, len(values))
	for i, v := range values {
		nodes[i] = Const(v)
	}
	return odata.InNode{Target: Field(field), Values: nodes}
}
