package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"go-automation/internal/features/contact"
)

const (
	expressionResult  = "__matched__"
	expressionTimeout = 100 * time.Millisecond
	expressionAllocs  = 10000
)

// Expression is an optional tengo boolean guard compiled once per rule.
// Scripts see contact, message, keyword and now, and may import the text
// and times modules.
type Expression struct {
	Source   string
	compiled *tengo.Compiled
}

func CompileExpression(src string) (*Expression, error) {
	script := tengo.NewScript([]byte(fmt.Sprintf("%s := (%s)", expressionResult, src)))
	script.SetImports(stdlib.GetModuleMap("text", "times"))
	script.SetMaxAllocs(expressionAllocs)
	for name, zero := range map[string]interface{}{
		"contact": map[string]interface{}{},
		"message": "",
		"keyword": "",
		"now":     time.Time{},
	} {
		if err := script.Add(name, zero); err != nil {
			return nil, err
		}
	}
	compiled, err := script.Compile()
	if err != nil {
		return nil, err
	}
	return &Expression{Source: src, compiled: compiled}, nil
}

// Eval runs the guard on a private clone, so concurrent passes may share
// one Expression.
func (e *Expression) Eval(ctx context.Context, c *contact.Contact, b Bindings, now time.Time) (bool, error) {
	run := e.compiled.Clone()
	vars := map[string]interface{}{
		"contact": contactObject(c),
		"message": stringBinding(b, "message"),
		"keyword": stringBinding(b, "keyword"),
		"now":     now,
	}
	for name, v := range vars {
		if err := run.Set(name, v); err != nil {
			return false, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, expressionTimeout)
	defer cancel()
	if err := run.RunContext(ctx); err != nil {
		return false, err
	}
	return run.Get(expressionResult).Bool(), nil
}

func contactObject(c *contact.Contact) map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	tags := make([]interface{}, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = t
	}
	obj := map[string]interface{}{
		"id":            c.ID.Hex(),
		"name":          c.Name,
		"phone":         c.Phone,
		"email":         c.Email,
		"tags":          tags,
		"notes":         c.Notes,
		"message_count": c.MessageCount,
		"is_active":     c.IsActive,
		"created_at":    c.CreatedAt,
	}
	if c.LastContacted != nil {
		obj["last_contacted"] = *c.LastContacted
	}
	if c.Birthday != nil {
		obj["birthday"] = *c.Birthday
	}
	return obj
}

func stringBinding(b Bindings, key string) string {
	s, _ := b[key].(string)
	return s
}
