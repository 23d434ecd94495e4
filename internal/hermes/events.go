package hermes

import "time"

// CatalogUpdatedEvent tells planners to reload their catalog snapshot.
type CatalogUpdatedEvent struct {
	Table     string    `json:"table"`
	Name      string    `json:"name,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type BlendSolvedEvent struct {
	RunID           string   `json:"run_id"`
	SheetID         string   `json:"sheet_id,omitempty"`
	Channel         string   `json:"channel"`
	InstrumentGroup string   `json:"instrument_group,omitempty"`
	Passed          bool     `json:"passed"`
	Rank            int      `json:"rank"`
	Failed          []string `json:"failed_elements,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// BlendDeferredEvent carries the post-analysis top-up still owed to a channel.
type BlendDeferredEvent struct {
	RunID      string             `json:"run_id"`
	Channel    string             `json:"channel"`
	Deferred   map[string]float64 `json:"deferred_pct"`
	TopUpGrams map[string]float64 `json:"topup_g"`
}

type PlanCompletedEvent struct {
	SheetID   string    `json:"sheet_id,omitempty"`
	Channels  int       `json:"channels"`
	Passed    int       `json:"passed"`
	Skipped   []string  `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SheetEvent struct {
	SheetID string `json:"sheet_id"`
	Name    string `json:"name,omitempty"`
}
