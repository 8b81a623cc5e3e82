package engine

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	dateOffsetRe  = regexp.MustCompile(`^date\s*\+\s*(\d+)$`)
)

// Resolver substitutes {{name}} placeholders in message templates.
// Resolution is layered: system context first, then the contact's
// stored variables, then the tenant's global constants. A placeholder
// no layer resolves is replaced with the empty string, never left as
// literal {{...}} text.
type Resolver struct {
	clock Clock
}

func NewResolver(clock Clock) *Resolver {
	return &Resolver{clock: clock}
}

func (r *Resolver) Resolve(template string, rc *RunContext) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	globals := rc.Bot.Globals()
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		if val, ok := r.system(key, rc); ok {
			return val
		}
		if val, ok := rc.Vars[key]; ok {
			return val
		}
		if val, ok := globals[key]; ok {
			return val
		}
		return ""
	})
}

func (r *Resolver) system(key string, rc *RunContext) (string, bool) {
	now := r.clock.Now().In(rc.Bot.Location())

	switch key {
	case "name":
		if rc.Contact.Name != "" {
			return rc.Contact.Name, true
		}
		return rc.Contact.Phone, true
	case "phone":
		return rc.Contact.Phone, true
	case "sender_phone":
		if rc.Envelope != nil && rc.Envelope.SenderPhone != "" {
			return rc.Envelope.SenderPhone, true
		}
		return rc.Contact.Phone, true
	case "sender_name":
		if rc.Envelope != nil && rc.Envelope.SenderName != "" {
			return rc.Envelope.SenderName, true
		}
		return rc.Contact.Name, true
	case "group":
		if rc.Contact.IsGroup {
			return rc.Contact.Name, true
		}
		return "", true
	case "channel":
		if rc.Contact.IsChannel {
			return rc.Contact.Name, true
		}
		return "", true
	case "message":
		if rc.Envelope != nil {
			return rc.Envelope.Body, true
		}
		return "", true
	case "date":
		return now.Format("02/01/2006"), true
	case "time":
		return now.Format("15:04"), true
	case "datetime":
		return now.Format("02/01/2006 15:04"), true
	case "weekday":
		return now.Weekday().String(), true
	}

	if m := dateOffsetRe.FindStringSubmatch(key); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil {
			return now.AddDate(0, 0, days).Format("02/01/2006"), true
		}
	}

	return "", false
}
