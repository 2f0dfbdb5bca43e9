package optrace

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Info is the payload attached to operations and events. It's a closed
// variant: the only implementations are [Scalar], [ErrorValue], [List],
// [Map], and [Struct]. Arbitrary values enter the variant through
// [Describe], which prefers the [Describable] capability when a type
// provides it.
type Info interface {
	renderInto(sb *strings.Builder, depth int)
}

// Scalar is a leaf payload value: a string, number, boolean, time, or
// anything else already reduced to a display form.
type Scalar struct {
	value any
}

// Str returns a string scalar.
func Str(s string) Scalar { return Scalar{value: s} }

// Int returns an integer scalar.
func Int(n int) Scalar { return Scalar{value: n} }

// Float returns a floating point scalar.
func Float(f float64) Scalar { return Scalar{value: f} }

// Bool returns a boolean scalar.
func Bool(b bool) Scalar { return Scalar{value: b} }

// Time returns a timestamp scalar.
func Time(t time.Time) Scalar { return Scalar{value: t} }

// ErrorValue wraps an error payload. Errors are rendered on the structured
// log line like any other value, and additionally routed to the console
// mirror with full detail.
type ErrorValue struct {
	Err error
}

// Err wraps the error as an Info payload.
func Err(err error) ErrorValue { return ErrorValue{Err: err} }

// List is an ordered collection of payloads.
type List []Info

// Map is a keyed collection of payloads. Keys render in sorted order so
// output is deterministic.
type Map map[string]Info

// Struct is a named record of payload fields, rendered in declaration order.
type Struct struct {
	Name   string
	Fields []Field
}

// Field is one key/value pair of a [Struct].
type Field struct {
	Key   string
	Value Info
}

// Describable is the capability interface types opt into when they want
// control over their diagnostic rendering. [Describe] uses it in preference
// to the generic structural dump.
type Describable interface {
	DescribeInfo() Info
}

// Describe converts an arbitrary value into the Info variant. Values
// implementing [Describable] describe themselves, errors become
// [ErrorValue], and everything else falls back to a generic structural dump.
func Describe(v any) Info {
	switch x := v.(type) {
	case nil:
		return Str("<nil>")
	case Info:
		return x
	case Describable:
		return x.DescribeInfo()
	case error:
		return Err(x)
	case string:
		return Str(x)
	case int:
		return Int(x)
	case int64:
		return Scalar{value: x}
	case uint64:
		return Scalar{value: x}
	case float64:
		return Float(x)
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case time.Duration:
		return Scalar{value: x}
	default:
		return Scalar{value: fmt.Sprintf("%+v", x)}
	}
}

// DescribeAll converts a slice of arbitrary values via [Describe].
func DescribeAll(vs ...any) []Info {
	if len(vs) <= 0 {
		return nil
	}
	infos := make([]Info, len(vs))
	for i, v := range vs {
		infos[i] = Describe(v)
	}
	return infos
}

// Rendering is recursive but bounded, so a pathological payload can't blow
// up a log line: nesting stops at maxRenderDepth, collections render at most
// maxRenderItems elements, and scalars are clipped at maxScalarRunes.
const (
	maxRenderDepth  = 4
	maxRenderItems  = 8
	maxScalarRunes  = 160
	renderTruncated = "…"
)

// renderInfos renders a payload list as a parenthesized, comma-separated
// group, or the empty string for an empty payload.
func renderInfos(infos []Info) string {
	if len(infos) <= 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("(")
	for i, in := range infos {
		if i > 0 {
			sb.WriteString(", ")
		}
		if in == nil {
			sb.WriteString("<nil>")
			continue
		}
		in.renderInto(&sb, 0)
	}
	sb.WriteString(")")
	return sb.String()
}

func (s Scalar) renderInto(sb *strings.Builder, depth int) {
	var str string
	switch v := s.value.(type) {
	case string:
		str = v
	case time.Time:
		str = v.Format("2006-01-02 15:04:05.000")
	default:
		str = fmt.Sprint(v)
	}
	if n := len([]rune(str)); n > maxScalarRunes {
		str = string([]rune(str)[:maxScalarRunes]) + renderTruncated
	}
	sb.WriteString(str)
}

func (e ErrorValue) renderInto(sb *strings.Builder, depth int) {
	if e.Err == nil {
		sb.WriteString("error<nil>")
		return
	}
	Str("error: " + e.Err.Error()).renderInto(sb, depth)
}

func (l List) renderInto(sb *strings.Builder, depth int) {
	if depth >= maxRenderDepth {
		sb.WriteString("[…]")
		return
	}
	sb.WriteString("[")
	for i, in := range l {
		if i >= maxRenderItems {
			fmt.Fprintf(sb, ", %s(+%d)", renderTruncated, len(l)-maxRenderItems)
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		in.renderInto(sb, depth+1)
	}
	sb.WriteString("]")
}

func (m Map) renderInto(sb *strings.Builder, depth int) {
	if depth >= maxRenderDepth {
		sb.WriteString("{…}")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i >= maxRenderItems {
			fmt.Fprintf(sb, ", %s(+%d)", renderTruncated, len(keys)-maxRenderItems)
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		m[k].renderInto(sb, depth+1)
	}
	sb.WriteString("}")
}

func (s Struct) renderInto(sb *strings.Builder, depth int) {
	if s.Name != "" {
		sb.WriteString(s.Name)
	}
	if depth >= maxRenderDepth {
		sb.WriteString("{…}")
		return
	}
	sb.WriteString("{")
	for i, f := range s.Fields {
		if i >= maxRenderItems {
			fmt.Fprintf(sb, ", %s(+%d)", renderTruncated, len(s.Fields)-maxRenderItems)
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Key)
		sb.WriteString(": ")
		if f.Value == nil {
			sb.WriteString("<nil>")
			continue
		}
		f.Value.renderInto(sb, depth+1)
	}
	sb.WriteString("}")
}

// shallowErrors returns the errors found at the top level of the payload
// list. Nested errors inside lists, maps, or structs are deliberately not
// searched: only shallow errors trigger console mirroring.
func shallowErrors(infos []Info) []error {
	var errs []error
	for _, in := range infos {
		if ev, ok := in.(ErrorValue); ok && ev.Err != nil {
			errs = append(errs, ev.Err)
		}
	}
	return errs
}
