package events

// EventAuthStateChanged is emitted on authentication state transitions.
const EventAuthStateChanged = "auth.state_changed"

// AuthStateChanged reports a provider moving between authentication states.
// EntityID carries the provider's numeric descriptor ID.
type AuthStateChanged struct {
	BaseEvent
	Provider string `json:"provider"`
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
}
