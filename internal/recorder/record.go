package recorder

import (
	"fmt"

	"applyflow/internal/selector"
)

// ActionKind is the type of an observed interaction.
type ActionKind string

const (
	ActionClick      ActionKind = "click"
	ActionInput      ActionKind = "input"
	ActionNavigation ActionKind = "navigation"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ActionRecord is one observed interaction. Selector is nil for navigations.
type ActionRecord struct {
	Kind      ActionKind           `json:"type"`
	Timestamp int64                `json:"timestamp"`
	Selector  *selector.Descriptor `json:"selector,omitempty"`
	TagName   string               `json:"tagName,omitempty"`
	Text      string               `json:"text,omitempty"`
	Value     string               `json:"value,omitempty"`
	From      string               `json:"from,omitempty"`
	To        string               `json:"to,omitempty"`
	URL       string               `json:"url,omitempty"`
	Position  *Position            `json:"position,omitempty"`
}

// Key is the deduplication identity: timestamp and kind.
func (a ActionRecord) Key() string {
	return fmt.Sprintf("%d_%s", a.Timestamp, a.Kind)
}

// Payload is the element text, the input value, or "from -> to".
func (a ActionRecord) Payload() string {
	switch a.Kind {
	case ActionInput:
		return a.Value
	case ActionNavigation:
		return a.From + " -> " + a.To
	}
	return a.Text
}
