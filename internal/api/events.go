package api

import "strings"

// Event type tags. Tags are colon separated and hierarchical; a subscription
// to a tag receives every event whose type extends it.
const (
	EventFocus = "focus:"

	EventWindowActivate   = "window:activate"
	EventWindowDeactivate = "window:deactivate"

	EventStateChanged        = "object:state-changed"
	EventStateChangedDefunct = "object:state-changed:defunct"
	EventStateChangedFocused = "object:state-changed:focused"
	EventStateChangedShowing = "object:state-changed:showing"

	EventChildrenChanged       = "object:children-changed"
	EventChildrenChangedAdd    = "object:children-changed:add"
	EventChildrenChangedRemove = "object:children-changed:remove"

	EventPropertyChange            = "object:property-change"
	EventPropertyChangeName        = "object:property-change:accessible-name"
	EventPropertyChangeDescription = "object:property-change:accessible-description"
	EventPropertyChangeParent      = "object:property-change:accessible-parent"

	EventTextChanged      = "object:text-changed"
	EventTextCaretMoved   = "object:text-caret-moved"
	EventSelectionChanged = "object:selection-changed"

	EventDocumentLoadComplete = "document:load-complete"

	EventKeyboardPress   = "keyboard:press"
	EventKeyboardRelease = "keyboard:release"
)

// TopLevelTags are subscribed once when the registry runs in listen-all mode.
var TopLevelTags = []string{
	"object:",
	"window:",
	"focus:",
	"document:",
	"keyboard:",
	"mouse:",
}

// MatchesTag reports whether an event of type eventType is covered by a
// subscription or interest in tag. A tag matches itself and every type that
// extends it at a ":" boundary, so "object:state-changed" covers
// "object:state-changed:focused" but not "object:state-changedness".
// Tags ending in ":" ("focus:") are prefixes by construction.
func MatchesTag(tag, eventType string) bool {
	if tag == "" {
		return false
	}
	if tag == eventType {
		return true
	}
	if strings.HasSuffix(tag, ":") {
		return strings.HasPrefix(eventType, tag) || eventType == strings.TrimSuffix(tag, ":")
	}
	return strings.HasPrefix(eventType, tag+":")
}

// HasTypePrefix is a readability helper for the common "type starts with"
// checks done by filters and the selector.
func HasTypePrefix(eventType, prefix string) bool {
	return strings.HasPrefix(eventType, prefix)
}

// IsKeyboardEvent reports whether the event comes from the keyboard rather
// than from the accessibility tree.
func IsKeyboardEvent(ev Event) bool {
	return strings.HasPrefix(ev.Type, "keyboard:")
}

// IsFocusEvent reports whether ev signals that its source gained focus.
func IsFocusEvent(ev Event) bool {
	if strings.HasPrefix(ev.Type, EventFocus) {
		return true
	}
	return strings.HasPrefix(ev.Type, EventStateChangedFocused) && ev.Detail1 == 1
}
