package at

import (
	"strconv"
	"strings"
)

// SplitFields splits a comma separated reply line into its fields.
// Quoted fields are returned as strings with the quotes removed, bare
// numbers as int. Numbers that would lose information as an int (a leading
// "+" or "0", or more than 9 digits, as phone numbers have) stay strings.
func SplitFields(line string) []any {
	var (
		fields []any
		cur    strings.Builder
		quoted bool
		inQuot bool
	)
	flush := func() {
		if quoted {
			fields = append(fields, cur.String())
		} else {
			fields = append(fields, bareValue(strings.TrimSpace(cur.String())))
		}
		cur.Reset()
		quoted = false
	}

	for _, r := range Trim(line) {
		switch {
		case r == '"':
			inQuot = !inQuot
			quoted = true
		case r == ',' && !inQuot:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}

// SplitReply applies SplitFields to each line of a reply.
func SplitReply(lines []string) [][]any {
	out := make([][]any, 0, len(lines))
	for _, line := range lines {
		out = append(out, SplitFields(line))
	}
	return out
}

func bareValue(f string) any {
	if f == "" || len(f) > 9 || strings.HasPrefix(f, "+") || (strings.HasPrefix(f, "0") && f != "0") {
		return f
	}
	n, err := strconv.Atoi(f)
	if err != nil {
		return f
	}
	return n
}
