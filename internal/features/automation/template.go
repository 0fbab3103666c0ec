package automation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go-automation/internal/features/contact"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}|\{(\w+)\}`)

// Render substitutes {name} and {{name}} placeholders from bindings.
// Unknown placeholders are left untouched.
func Render(text string, b Bindings) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		groups := placeholderPattern.FindStringSubmatch(m)
		key := groups[1]
		if key == "" {
			key = groups[2]
		}
		v, ok := b[key]
		if !ok {
			return m
		}
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

// contactBindings exposes the contact to templates and expressions.
func contactBindings(c *contact.Contact, at time.Time) Bindings {
	b := Bindings{
		"date": at.Format("2006-01-02"),
		"time": at.Format("15:04"),
	}
	if c == nil {
		return b
	}
	b["contact_id"] = c.ID.Hex()
	b["name"] = c.Name
	b["first_name"] = firstName(c.Name)
	b["phone"] = c.Phone
	b["email"] = c.Email
	b["tags"] = strings.Join(c.Tags, ", ")
	b["message_count"] = c.MessageCount
	return b
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
