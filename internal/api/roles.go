package api

// Role is the accessible role name as reported by the Bus.
type Role string

const (
	RoleUnknown       Role = "unknown"
	RoleApplication   Role = "application"
	RoleDesktopFrame  Role = "desktop-frame"
	RoleFrame         Role = "frame"
	RoleWindow        Role = "window"
	RoleDialog        Role = "dialog"
	RolePanel         Role = "panel"
	RolePushButton    Role = "push-button"
	RoleLabel         Role = "label"
	RoleEntry         Role = "entry"
	RoleText          Role = "text"
	RoleTerminal      Role = "terminal"
	RoleDocumentWeb   Role = "document-web"
	RoleMenuBar       Role = "menu-bar"
	RoleMenu          Role = "menu"
	RoleMenuItem      Role = "menu-item"
	RoleCheckMenuItem Role = "check-menu-item"
	RoleRadioMenuItem Role = "radio-menu-item"

	// RoleCheckMenu and RoleRadioMenu never come from the Bus. They are
	// produced by role coalescing for check/radio menu items that own
	// children (submenus that some toolkits expose as leaf items).
	RoleCheckMenu Role = "check-menu"
	RoleRadioMenu Role = "radio-menu"
)

// State is a single accessible state name.
type State string

const (
	StateActive    State = "active"
	StateDefunct   State = "defunct"
	StateEnabled   State = "enabled"
	StateFocusable State = "focusable"
	StateFocused   State = "focused"
	StateModal     State = "modal"
	StateSelected  State = "selected"
	StateShowing   State = "showing"
	StateVisible   State = "visible"
)

// Relation types.
const (
	RelationLabelledBy    = "labelled-by"
	RelationDescribedBy   = "described-by"
	RelationControllerFor = "controller-for"
)
