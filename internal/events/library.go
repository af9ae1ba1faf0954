package events

// Event type names for library items.
const (
	EventItemAdded    = "item.added"
	EventItemUpdated  = "item.updated"
	EventItemLinked   = "item.linked"
	EventItemDelisted = "item.delisted"
)

// ItemAdded is emitted when a merge creates a new library item.
type ItemAdded struct {
	BaseEvent
	ItemID   int64  `json:"item_id"`
	Title    string `json:"title"`
	Provider string `json:"provider"`
}

// ItemUpdated is emitted when a merge changes an existing item.
type ItemUpdated struct {
	BaseEvent
	ItemID   int64  `json:"item_id"`
	Provider string `json:"provider"`
}

// ItemLinked is emitted when a payload's cross-reference attaches another
// provider's ID to an existing item.
type ItemLinked struct {
	BaseEvent
	ItemID     int64  `json:"item_id"`
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
}

// ItemDelisted is emitted when a provider reports a tracked entity as gone.
type ItemDelisted struct {
	BaseEvent
	ItemID   int64  `json:"item_id"`
	Provider string `json:"provider"`
}
