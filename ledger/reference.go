package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// CounterClass selects which reference counter of an office is advanced.
type CounterClass string

const (
	ClassIncome   CounterClass = "income"
	ClassSpending CounterClass = "spending"
	ClassLoan     CounterClass = "loan"
	ClassSalary   CounterClass = "salary"
)

var classCodes = map[CounterClass]string{
	ClassIncome:   "INC",
	ClassSpending: "SPD",
	ClassLoan:     "LON",
	ClassSalary:   "SAL",
}

// Code returns the short code embedded in reference numbers, e.g. "INC".
func (c CounterClass) Code() string { return classCodes[c] }

func (c CounterClass) Valid() bool { _, ok := classCodes[c]; return ok }

// FormatReference returns a reference like "F1-INC-007".
// An empty prefix yields "INC-007".
func FormatReference(prefix string, class CounterClass, seq int64) string {
	if prefix == "" {
		return fmt.Sprintf("%s-%03d", class.Code(), seq)
	}
	return fmt.Sprintf("%s-%s-%03d", prefix, class.Code(), seq)
}

// ParseReference splits "F1-INC-007" into prefix, class and sequence.
func ParseReference(ref string) (prefix string, class CounterClass, seq int64, err error) {
	parts := strings.Split(ref, "-")
	if len(parts) < 2 {
		return "", "", 0, fmt.Errorf("invalid reference format: %q", ref)
	}

	seq, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || seq <= 0 {
		return "", "", 0, fmt.Errorf("invalid sequence in reference %q", ref)
	}

	code := parts[len(parts)-2]
	for c, cc := range classCodes {
		if cc == code {
			class = c
		}
	}
	if class == "" {
		return "", "", 0, fmt.Errorf("unknown class code %q in reference %q", code, ref)
	}

	prefix = strings.Join(parts[:len(parts)-2], "-")
	return prefix, class, seq, nil
}
