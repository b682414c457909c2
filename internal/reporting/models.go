package reporting

// BatchSummaryRequest asks for the follow-up outcome of one uploaded batch.
// An empty BatchTag summarizes every record.
type BatchSummaryRequest struct {
	BatchTag string `json:"batch_tag"`
}

// BatchSummary aggregates records and their call attempts.
type BatchSummary struct {
	BatchTag string `json:"batch_tag"`

	Records       int `json:"records"`
	InvalidPhones int `json:"invalid_phones"`

	// Per follow-up slot value, e.g. {"first": {"scheduled": 3, "completed": 10}}.
	Followups map[string]map[string]int `json:"followups"`

	Attempts       int            `json:"attempts"`
	AttemptsByStat map[string]int `json:"attempts_by_status"`
	ConnectedCalls int            `json:"connected_calls"`
	RecordedCalls  int            `json:"recorded_calls"`
	ProcessedCalls int            `json:"processed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	IntentYes         int `json:"intent_yes"`
	IntentNo          int `json:"intent_no"`
	FutureInterestYes int `json:"future_interest_yes"`

	ConnectionRate float64 `json:"connection_rate"`
}
