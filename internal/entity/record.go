package entity

import (
	"encoding/json"
	"maps"
)

// Record is the generic entity representation used by the table
// controller, evaluator and both repository adapters. Domain fields are
// kept as a loosely-typed map so the same controller code serves any
// entity type registered with it (see the "tagged registry" design note
// in SPEC_FULL.md / DESIGN.md) without reflection over Go struct tags at
// request time.
type Record struct {
	Meta   Metadata
	Fields map[string]any
}

var _ Entity = (*Record)(nil)

// NewRecord builds a Record whose Fields are a copy of fields and whose
// Meta is zero. Keys named like the four reserved fields are copied into
// Fields as they are; they are not moved into Meta.
func NewRecord(fields map[string]any) *Record {
	r := &Record{Fields: map[string]any{}}
	maps.Copy(r.Fields, fields)
	return r
}

func (r *Record) GetMetadata() Metadata { return r.Meta }

func (r *Record) SetMetadata(m Metadata) { r.Meta = m }

func (r *Record) Clone() Entity {
	clone := &Record{Meta: r.Meta, Fields: make(map[string]any, len(r.Fields))}
	clone.Meta.Version = append([]byte(nil), r.Meta.Version...)
	maps.Copy(clone.Fields, r.Fields)
	return clone
}

// Get reads a domain field (not one of the four reserved ones).
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// MarshalJSON flattens Meta and Fields into one JSON object using the
// reserved field names from spec.md §3.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	maps.Copy(out, r.Fields)
	out["id"] = r.Meta.ID
	out["updatedAt"] = r.Meta.UpdatedAt
	out["version"] = r.Meta.ETag()
	out["deleted"] = r.Meta.Deleted
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. A request body that omits
// the reserved fields (as Add requests typically do) leaves them zero.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Fields = map[string]any{}
	for k, v := range raw {
		switch k {
		case "id":
			if s, ok := v.(string); ok {
				r.Meta.ID = s
			}
		case "updatedAt":
			// Left to the server; a client-submitted value is ignored by
			// the controller but parsed here if present so round-trips of
			// server responses (e.g. conflict bodies) still work.
			if s, ok := v.(string); ok {
				if t, err := parseTime(s); err == nil {
					r.Meta.UpdatedAt = t
				}
			}
		case "version":
			if s, ok := v.(string); ok {
				if ver, err := VersionFromETag(s); err == nil {
					r.Meta.Version = ver
				}
			}
		case "deleted":
			if b, ok := v.(bool); ok {
				r.Meta.Deleted = b
			}
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

// Field looks up a field on the flattened representation (domain field
// or reserved metadata field), used by the query evaluator's member
// access nodes.
func (r *Record) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.Meta.ID, true
	case "updatedAt":
		return r.Meta.UpdatedAt, true
	case "deleted":
		return r.Meta.Deleted, true
	default:
		v, ok := r.Fields[name]
		return v, ok
	}
}
