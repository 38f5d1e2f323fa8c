package service

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format renders an alert as plain text: header, when/env, message, error, context.
func Format(env string, at time.Time, level Level, message string, fields Fields) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s Alert\n", level.Emoji(), strings.ToUpper(string(level)))
	fmt.Fprintf(&b, "When: %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Environment: %s\n\n", env)
	fmt.Fprintf(&b, "Message:\n%s\n", message)

	if errV, ok := fields["error"]; ok && errV != nil {
		fmt.Fprintf(&b, "\nError Details:\n%v\n", errV)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "error" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		b.WriteString("\nAdditional Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %v\n", k, fields[k])
		}
	}
	return b.String()
}
