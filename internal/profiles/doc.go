// Package profiles stores per-application handler overrides.
//
// A profile is a small YAML file named after the application:
//
//	# ~/.config/axdispatch/profiles/gnome-terminal-server.yaml
//	keyBindings:
//	  - keys: KP_Insert+f
//	    action: where-am-i
//	settings:
//	  verbosity: brief
//	maxRetries: 4
//	interests:
//	  - object:text-caret-moved
//
// Handlers read their profile once when they are created. The Watcher
// reports edits so the session can reapply a profile to the live handler.
package profiles
