package cmd

import (
	"strconv"

	"github.com/bahusvel/faastr-go/internal/sos"
)

// parseArgs turns a slice of raw CLI argument strings into SOS values: a
// token parsing as a base-10 int64 becomes sos.Int64, otherwise it is kept
// as sos.String. There is no CLI syntax for the other SOS tags (Opaque,
// Function, Embedded) — those are only ever produced by modules themselves.
func parseArgs(raw []string) []sos.Value {
	values := make([]sos.Value, 0, len(raw))
	for _, tok := range raw {
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			values = append(values, sos.Int64(n))
			continue
		}
		values = append(values, sos.String(tok))
	}
	return values
}

// formatResult renders decoded SOS return values for human-facing CLI
// output: one line listing each value's Go representation.
func formatResult(values []sos.Value) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += " "
		}
		out += formatValue(v)
	}
	return out
}

func formatValue(v sos.Value) string {
	switch v.Tag() {
	case sos.TagString:
		s, _ := v.AsString()
		return s
	case sos.TagError:
		s, _ := v.AsString()
		return "error: " + s
	case sos.TagInt32, sos.TagInt64:
		n, _ := v.AsInt64()
		return strconv.FormatInt(n, 10)
	case sos.TagUInt32, sos.TagUInt64:
		n, _ := v.AsUInt64()
		return strconv.FormatUint(n, 10)
	case sos.TagFloat32, sos.TagFloat64:
		f, _ := v.AsFloat64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return "<unprintable>"
	}
}
