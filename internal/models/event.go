package models

// Plugin lifecycle event types sent to websocket clients.
const (
	EventPluginInstalled     = "installed"
	EventPluginDeleted       = "deleted"
	EventPluginInstallFailed = "install_failed"
	EventPluginLoaded        = "loaded"
	EventPluginUnloaded      = "unloaded"
	EventUpdatesAvailable    = "updates_available"
)

// PluginEvent is broadcast when the installed plugin set changes.
type PluginEvent struct {
	Type     string                   `json:"type"`
	PluginID string                   `json:"plugin_id,omitempty"`
	Version  string                   `json:"version,omitempty"`
	Verified bool                     `json:"verified,omitempty"`
	Stage    string                   `json:"stage,omitempty"`
	Message  string                   `json:"message,omitempty"`
	Updates  []PluginDistributionFile `json:"updates,omitempty"`
}
