package ingest

import (
	"maps"
	"strings"

	"ag3/pkg/config"
	"ag3/pkg/protocol"
)

// Template describes the mission created for one event type.
type Template struct {
	MissionType string
	Capability  string
	// Project builds the mission payload from the event.
	Project func(ev protocol.Event) map[string]any
}

// Table maps event types to mission templates.
type Table map[string]Template

// MissionCheckoutCompleted is the mission created for a completed checkout.
const MissionCheckoutCompleted = "stripe_checkout_completed"

// DefaultTable returns the built-in templates.
func DefaultTable() Table {
	return Table{
		protocol.EventCheckoutCompleted: {
			MissionType: MissionCheckoutCompleted,
			Capability:  "route",
			Project:     projectCheckout,
		},
	}
}

// WithConfig returns a copy of t extended by the configured templates. A
// configured type replaces a built-in one.
func (t Table) WithConfig(templates []config.EventTemplate) Table {
	out := maps.Clone(t)
	if out == nil {
		out = Table{}
	}
	for _, tmpl := range templates {
		out[tmpl.Type] = Template{
			MissionType: tmpl.MissionType,
			Capability:  tmpl.Capability,
			Project:     projectFields(tmpl.Fields),
		}
	}
	return out
}

// Lookup returns the template for eventType.
func (t Table) Lookup(eventType string) (Template, bool) {
	tmpl, ok := t[eventType]
	return tmpl, ok
}

// eventObject returns payload.data.object when present, else the payload.
func eventObject(ev protocol.Event) map[string]any {
	if data, ok := ev.Payload["data"].(map[string]any); ok {
		if obj, ok := data["object"].(map[string]any); ok {
			return obj
		}
	}
	return ev.Payload
}

// lookupPath resolves a dotted path such as "customer_details.email".
func lookupPath(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func firstOf(obj map[string]any, paths ...string) any {
	for _, p := range paths {
		if v, ok := lookupPath(obj, p); ok && v != nil {
			return v
		}
	}
	return nil
}

func projectCheckout(ev protocol.Event) map[string]any {
	obj := eventObject(ev)
	return map[string]any{
		"eventId":   ev.ID,
		"sessionId": firstOf(obj, "id", "sessionId"),
		"customer":  firstOf(obj, "customer"),
		"email":     firstOf(obj, "customer_details.email", "email"),
		"amount":    firstOf(obj, "amount_total", "amount"),
		"currency":  firstOf(obj, "currency"),
	}
}

// projectFields copies the listed paths out of the event object, or the
// whole object when fields is empty. eventId is always set.
func projectFields(fields []string) func(protocol.Event) map[string]any {
	return func(ev protocol.Event) map[string]any {
		obj := eventObject(ev)
		out := make(map[string]any, len(fields)+1)
		if len(fields) == 0 {
			maps.Copy(out, obj)
		}
		for _, f := range fields {
			if v, ok := lookupPath(obj, f); ok {
				out[f] = v
			}
		}
		out["eventId"] = ev.ID
		return out
	}
}
