package p4

import (
	"regexp"
	"strconv"
	"strings"
)

// Record is one object of `p4 -ztag` output.
type Record map[string]string

// Int returns the integer value of key, or 0 when missing or malformed.
func (r Record) Int(key string) int {
	n, _ := strconv.Atoi(r[key])
	return n
}

var fieldRe = regexp.MustCompile(`^\.\.\. (\w+)(?: (.*))?$`)

// ParseTagged splits `p4 -ztag` output into records.
//
// Values may span several lines (descriptions); continuation lines are the
// ones without the "... " marker. A key already present in the current
// record starts a new record, since p4 does not reliably separate objects
// with blank lines when values contain them.
func ParseTagged(output []byte) []Record {
	var (
		records []Record
		current = Record{}
		key     string
		value   strings.Builder
	)

	flush := func() {
		if key == "" {
			return
		}
		current[key] = strings.TrimSpace(value.String())
		key = ""
		value.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(string(output), "\r\n", "\n"), "\n") {
		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			if key != "" {
				value.WriteString("\n")
				value.WriteString(line)
			}
			continue
		}

		flush()
		if _, seen := current[m[1]]; seen {
			records = append(records, current)
			current = Record{}
		}
		key = m[1]
		value.WriteString(m[2])
	}

	flush()
	if len(current) > 0 {
		records = append(records, current)
	}

	return records
}
