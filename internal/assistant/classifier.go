// Package assistant is the built-in rule-based chat agent. It understands a
// handful of grocery phrasings and uses the inventory service as its tools.
// A model-backed agent can replace it through chat.Agent.
package assistant

import (
	"context"
	"strings"
)

// Intent labels.
const (
	IntentAddItem        = "add_item"
	IntentRemoveItem     = "remove_item"
	IntentShowList       = "show_list"
	IntentEditList       = "edit_list"
	IntentListOverview   = "list_overview"
	IntentInventoryQuery = "inventory_query"
	IntentChitchat       = "chitchat"
)

type rule struct {
	intent string
	match  func(s string) bool
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{IntentAddItem, func(s string) bool {
		return strings.HasPrefix(s, "add ") || strings.Contains(s, " add ") || strings.HasPrefix(s, "buy ") || strings.Contains(s, "need more ")
	}},
	{IntentRemoveItem, func(s string) bool {
		return hasAny(s, "remove ", "delete ", "ran out of", "out of ", "used up", "finished the ")
	}},
	{IntentEditList, func(s string) bool {
		return strings.Contains(s, "edit") && strings.Contains(s, "list")
	}},
	{IntentListOverview, func(s string) bool {
		return hasAny(s, "lists", "all my list", "which list", "what list")
	}},
	{IntentShowList, func(s string) bool {
		return hasAny(s, "list", "shopping")
	}},
	{IntentInventoryQuery, func(s string) bool {
		return hasAny(s, "do we have", "do i have", "in stock", "pantry", "inventory", "what's left", "what is left")
	}},
}

// Classifier labels text by keyword.
type Classifier struct{}

func NewClassifier() *Classifier { return &Classifier{} }

func (c *Classifier) Classify(_ context.Context, text string) (string, error) {
	return classify(text), nil
}

func classify(text string) string {
	s := normalize(text)
	for _, r := range rules {
		if r.match(s) {
			return r.intent
		}
	}
	return IntentChitchat
}

func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
