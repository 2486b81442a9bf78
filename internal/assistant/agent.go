package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"pantry/internal/chat"
	"pantry/internal/inventory"
)

// Inventory is the slice of inventory.Service the agent calls as tools.
type Inventory interface {
	Items(ctx context.Context, homeID string) ([]inventory.Item, error)
	FindItem(ctx context.Context, homeID, name string) (*inventory.Item, error)
	ToggleItem(ctx context.Context, homeID, id string, inStock *bool) (*inventory.Item, error)
	Lists(ctx context.Context, homeID string) ([]inventory.List, error)
	DefaultList(ctx context.Context, homeID, listID string) (*inventory.List, error)
	AddListItem(ctx context.Context, homeID, listID string, in inventory.ListItemInput) (*inventory.List, *inventory.ListItem, error)
	DeleteListItem(ctx context.Context, homeID, listID, itemID string) (*inventory.List, *inventory.ListItem, error)
}

// Agent answers the latest user message in the history.
type Agent struct {
	inv Inventory
	log *zap.Logger
	// Pause between streamed words. Zero streams as fast as the reader pulls.
	pace time.Duration
}

func NewAgent(inv Inventory, log *zap.Logger, pace time.Duration) *Agent {
	return &Agent{inv: inv, log: log.Named("assistant"), pace: pace}
}

// step is what one intent handler decided: tool calls to report and the
// reply text.
type step struct {
	tools []chat.ReplyChunk
	text  string
}

func (a *Agent) Reply(ctx context.Context, req chat.ReplyRequest) iter.Seq2[chat.ReplyChunk, error] {
	return func(yield func(chat.ReplyChunk, error) bool) {
		text, ok := lastUserMessage(req.History)
		if !ok {
			yield(chat.ReplyChunk{}, errors.New("no user message in history"))
			return
		}

		st, err := a.plan(ctx, req, text)
		if err != nil {
			yield(chat.ReplyChunk{}, err)
			return
		}
		for _, c := range st.tools {
			if !yield(c, nil) {
				return
			}
		}
		for _, w := range words(st.text) {
			if a.pace > 0 {
				select {
				case <-ctx.Done():
					yield(chat.ReplyChunk{}, ctx.Err())
					return
				case <-time.After(a.pace):
				}
			}
			if !yield(chat.TextChunk(w), nil) {
				return
			}
		}
	}
}

func (a *Agent) plan(ctx context.Context, req chat.ReplyRequest, text string) (step, error) {
	intent := classify(text)
	a.log.Debug("planning reply", zap.String("intent", intent), zap.String("thread", req.ThreadID))

	switch intent {
	case IntentAddItem:
		return a.addItems(ctx, req, parseItems(text))
	case IntentRemoveItem:
		return a.removeItems(ctx, req, parseItems(text))
	case IntentShowList:
		return a.showList(ctx, req, false)
	case IntentEditList:
		return a.showList(ctx, req, true)
	case IntentListOverview:
		return a.overview(ctx, req)
	case IntentInventoryQuery:
		return a.query(ctx, req, text)
	default:
		return step{text: greeting(req.Home)}, nil
	}
}

func (a *Agent) addItems(ctx context.Context, req chat.ReplyRequest, want []wanted) (step, error) {
	if len(want) == 0 {
		return step{text: "What would you like me to add?"}, nil
	}
	list, err := a.inv.DefaultList(ctx, req.HomeID, req.ListID)
	if err != nil {
		return step{}, fmt.Errorf("resolve list: %w", err)
	}

	var st step
	var names []string
	for _, w := range want {
		l, it, err := a.inv.AddListItem(ctx, req.HomeID, list.ID, inventory.ListItemInput{Name: w.Name, Quantity: w.Quantity})
		if err != nil {
			return step{}, fmt.Errorf("add %q: %w", w.Name, err)
		}
		list = l
		names = append(names, it.Name)
		st.tools = append(st.tools, chat.ToolChunk("add_list_item", it, nil))
	}
	// The updated list is the payload worth showing.
	st.tools = append(st.tools, chat.ToolChunk("show_list", list, chat.GroceryListFrom(*list)))
	st.text = fmt.Sprintf("Added %s to %s.", joinNames(names), list.Name)
	return st, nil
}

func (a *Agent) removeItems(ctx context.Context, req chat.ReplyRequest, want []wanted) (step, error) {
	if len(want) == 0 {
		return step{text: "Which item should I remove?"}, nil
	}
	list, err := a.inv.DefaultList(ctx, req.HomeID, req.ListID)
	if err != nil {
		return step{}, fmt.Errorf("resolve list: %w", err)
	}

	var st step
	var sentences []string
	for _, w := range want {
		if li := findListItem(list, w.Name); li != nil {
			l, removed, err := a.inv.DeleteListItem(ctx, req.HomeID, list.ID, li.ID)
			if err != nil {
				return step{}, fmt.Errorf("remove %q: %w", w.Name, err)
			}
			list = l
			st.tools = append(st.tools, chat.ToolChunk("delete_list_item", removed, chat.GroceryListFrom(*l)))
			sentences = append(sentences, fmt.Sprintf("Removed %s from %s.", removed.Name, l.Name))
			continue
		}

		it, err := a.inv.FindItem(ctx, req.HomeID, w.Name)
		if errors.Is(err, inventory.ErrNotFound) {
			sentences = append(sentences, fmt.Sprintf("I couldn't find %s.", w.Name))
			continue
		}
		if err != nil {
			return step{}, err
		}
		outOfStock := false
		it, err = a.inv.ToggleItem(ctx, req.HomeID, it.ID, &outOfStock)
		if err != nil {
			return step{}, err
		}
		st.tools = append(st.tools, chat.ToolChunk("mark_out_of_stock", it, nil))
		sentences = append(sentences, fmt.Sprintf("Marked %s as out of stock.", it.Name))
	}
	st.text = strings.Join(sentences, " ")
	return st, nil
}

func (a *Agent) showList(ctx context.Context, req chat.ReplyRequest, editor bool) (step, error) {
	list, err := a.inv.DefaultList(ctx, req.HomeID, req.ListID)
	if err != nil {
		return step{}, fmt.Errorf("resolve list: %w", err)
	}
	completed, total := list.Stats()

	if editor {
		return step{
			tools: []chat.ReplyChunk{chat.ToolChunk("edit_list", list, chat.ListEditorUI{List: *list})},
			text:  fmt.Sprintf("Here's %s. Tap an item to change it.", list.Name),
		}, nil
	}
	text := fmt.Sprintf("%s is empty.", list.Name)
	if total > 0 {
		text = fmt.Sprintf("%s has %d %s, %d done.", list.Name, total, plural(total, "item"), completed)
	}
	return step{
		tools: []chat.ReplyChunk{chat.ToolChunk("show_list", list, chat.GroceryListFrom(*list))},
		text:  text,
	}, nil
}

func (a *Agent) overview(ctx context.Context, req chat.ReplyRequest) (step, error) {
	lists, err := a.inv.Lists(ctx, req.HomeID)
	if err != nil {
		return step{}, err
	}
	if len(lists) == 0 {
		return step{text: "You don't have any lists yet. Ask me to add something and I'll start one."}, nil
	}
	names := make([]string, len(lists))
	for i, l := range lists {
		names[i] = l.Name
	}
	return step{
		tools: []chat.ReplyChunk{chat.ToolChunk("list_overview", lists, chat.OverviewFrom(lists))},
		text:  fmt.Sprintf("You have %d %s: %s.", len(lists), plural(len(lists), "list"), joinNames(names)),
	}, nil
}

func (a *Agent) query(ctx context.Context, req chat.ReplyRequest, text string) (step, error) {
	items, err := a.inv.Items(ctx, req.HomeID)
	if err != nil {
		return step{}, err
	}
	lookup := chat.ToolChunk("lookup_items", items, nil)

	if hasAny(normalize(text), "do we have", "do i have", "any ") {
		var sentences []string
		for _, w := range parseItems(text) {
			sentences = append(sentences, stockSentence(items, w.Name))
		}
		if len(sentences) > 0 {
			return step{tools: []chat.ReplyChunk{lookup}, text: strings.Join(sentences, " ")}, nil
		}
	}

	var inStock []string
	for _, it := range items {
		if it.InStock {
			inStock = append(inStock, it.Name)
		}
	}
	text = "Your pantry is empty."
	if len(inStock) > 0 {
		text = fmt.Sprintf("You have %s.", joinNames(inStock))
	}
	return step{tools: []chat.ReplyChunk{lookup}, text: text}, nil
}

func stockSentence(items []inventory.Item, name string) string {
	for _, it := range items {
		if !sameItem(it.Name, name) {
			continue
		}
		if it.InStock {
			return fmt.Sprintf("Yes, you have %s.", it.Name)
		}
		return fmt.Sprintf("You're out of %s.", it.Name)
	}
	return fmt.Sprintf("%s isn't in your pantry.", capitalize(name))
}

func greeting(hc *chat.HomeContext) string {
	msg := "Hi! I can add things to your shopping list, show your lists, or check what's in the pantry."
	if hc != nil && len(hc.OutOfStock) > 0 {
		msg += fmt.Sprintf(" By the way, you're out of %s.", joinNames(hc.OutOfStock))
	}
	return msg
}

func lastUserMessage(history []chat.Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleUser {
			return history[i].Content, true
		}
	}
	return "", false
}

func findListItem(l *inventory.List, name string) *inventory.ListItem {
	for i := range l.Items {
		if sameItem(l.Items[i].Name, name) {
			return &l.Items[i]
		}
	}
	return nil
}

// words splits text into deltas that concatenate back to the original.
func words(text string) []string {
	fields := strings.Fields(text)
	for i := range len(fields) - 1 {
		fields[i] += " "
	}
	return fields
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
