package library

// Filter selects items in ListItems queries. Nil fields match everything.
type Filter struct {
	InList      *bool
	WatchStatus *WatchStatus
	Delisted    *bool
	Title       *string
	Provider    *ProviderID

	// Pagination. Limit <= 0 returns everything.
	Limit  int
	Offset int
}
