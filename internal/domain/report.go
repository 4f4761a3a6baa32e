package domain

// QualityReport summarizes the raw and curated collections for data-quality monitoring.
type QualityReport struct {
	TotalEvents        int            `json:"total_events"`
	CuratedEvents      int            `json:"curated_events"`
	UnattributedEvents int            `json:"unattributed_events"`
	AmbiguousTimes     int            `json:"ambiguous_timestamps"`
	FutureEvents       int            `json:"future_events"`
	OrdersMaterialized int            `json:"orders_materialized"`
	ByType             map[string]int `json:"by_type"`
	ByVendor           map[string]int `json:"by_vendor"`
}
