package odata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a time-of-day literal, represented as the duration since
// midnight, matching Edm.TimeOfDay.
type TimeOfDay time.Duration

var edmTypeNames = map[string]string{
	"date":           "Date",
	"timeofday":      "TimeOfDay",
	"datetimeoffset": "DateTimeOffset",
	"guid":           "Guid",
	"string":         "String",
	"int32":          "Int32",
	"int64":          "Int64",
	"double":         "Double",
	"decimal":        "Decimal",
	"boolean":        "Boolean",
}

// normalizeEdmType accepts "Edm.Date", "edm.date", or "Date" and returns
// the canonical type name, or an error for anything not in the
// documented subset.
func normalizeEdmType(raw string) (string, error) {
	name := raw
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	canon, ok := edmTypeNames[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("odata: bad request: unknown Edm type %q", raw)
	}
	return canon, nil
}

var identOnlyRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// parseCastOperand interprets the raw text captured between "cast(" and
// the following comma. If it looks like a bare field name it becomes a
// MemberAccessNode (the general `cast(<field>, Edm.T)` usage); otherwise
// it is parsed as a literal of the target EdmType (the date/time/guid
// literal forms documented in spec.md §4.B).
func parseCastOperand(raw string, edmType string) (Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("odata: bad request: empty cast(...) operand")
	}

	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		s := strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
		return ConstantNode{Value: s, EdmType: "String"}, nil
	}

	if identOnlyRE.MatchString(raw) && !looksNumeric(raw) {
		return MemberAccessNode{Name: raw}, nil
	}

	switch edmType {
	case "Date":
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid Edm.Date literal %q", raw)
		}
		return ConstantNode{Value: t, EdmType: "Date"}, nil
	case "TimeOfDay":
		tod, err := parseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		return ConstantNode{Value: tod, EdmType: "TimeOfDay"}, nil
	case "DateTimeOffset":
		t, err := parseDateTimeOffset(raw)
		if err != nil {
			return nil, err
		}
		return ConstantNode{Value: t, EdmType: "DateTimeOffset"}, nil
	case "Guid":
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid Edm.Guid literal %q", raw)
		}
		return ConstantNode{Value: id, EdmType: "Guid"}, nil
	case "Int32", "Int64":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid integer literal %q", raw)
		}
		return ConstantNode{Value: n, EdmType: edmType}, nil
	case "Double", "Decimal":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid numeric literal %q", raw)
		}
		return ConstantNode{Value: f, EdmType: edmType}, nil
	case "Boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid boolean literal %q", raw)
		}
		return ConstantNode{Value: b, EdmType: "Boolean"}, nil
	default:
		return ConstantNode{Value: raw, EdmType: "String"}, nil
	}
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= '0' && s[0] <= '9'
}

func parseTimeOfDay(raw string) (TimeOfDay, error) {
	layouts := []string{"15:04:05.000", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d := time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second +
				time.Duration(t.Nanosecond())
			return TimeOfDay(d), nil
		}
	}
	return 0, fmt.Errorf("odata: bad request: invalid Edm.TimeOfDay literal %q", raw)
}

func parseDateTimeOffset(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("odata: bad request: invalid Edm.DateTimeOffset literal %q", raw)
}

// parseNumberLiteral interprets a lexed numeric token, applying the M
// (decimal) and d/D (double) suffixes from spec.md §4.B; a bare integer
// with no suffix or decimal point is Int64, one with a '.' is Double.
func (p *parser) parseNumberLiteral() (Node, error) {
	text := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	suffix := byte(0)
	body := text
	if n := len(text); n > 0 {
		last := text[n-1]
		if last == 'M' || last == 'm' || last == 'd' || last == 'D' {
			suffix = last
			body = text[:n-1]
		}
	}

	switch suffix {
	case 'M', 'm':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid decimal literal %q", text)
		}
		return ConstantNode{Value: f, EdmType: "Decimal"}, nil
	case 'd', 'D':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid double literal %q", text)
		}
		return ConstantNode{Value: f, EdmType: "Double"}, nil
	}

	if strings.Contains(body, ".") {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("odata: bad request: invalid numeric literal %q", text)
		}
		return ConstantNode{Value: f, EdmType: "Double"}, nil
	}

	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("odata: bad request: invalid integer literal %q", text)
	}
	return ConstantNode{Value: n, EdmType: "Int64"}, nil
}
