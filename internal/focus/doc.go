// Package focus tracks where the user is: the focused object (Tracker) and
// the handler whose application owns the user's attention (Selector).
package focus
