package types

// Command names accepted by the engine's command dispatcher.
const (
	CommandRunStart          = "RUN_START"
	CommandRunPause          = "RUN_PAUSE"
	CommandRunResume         = "RUN_RESUME"
	CommandRunStop           = "RUN_STOP"
	CommandScrapeList        = "SCRAPE_LIST"
	CommandVisitOne          = "VISIT_ONE"
	CommandGenerateAndUpload = "GENERATE_AND_UPLOAD"
	CommandEnterBilling      = "ENTER_BILLING"
)

// CommandRequest is the envelope for a single engine command.
type CommandRequest struct {
	// Command is one of the Command* constants.
	Command string `json:"command"`

	// FromIndex is the queue position to start from (RUN_START).
	FromIndex int `json:"fromIndex,omitempty"`

	// Key selects an item (VISIT_ONE).
	Key string `json:"key,omitempty"`

	// Start and End bound a date range, formatted 2006-01-02
	// (GENERATE_AND_UPLOAD, ENTER_BILLING).
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// RatePerDay is the daily rate in cents (ENTER_BILLING).
	RatePerDay int64 `json:"ratePerDay,omitempty"`

	// ProofRef references the uploaded proof document (ENTER_BILLING).
	ProofRef string `json:"proofRef,omitempty"`

	// BackendURL is the document backend (GENERATE_AND_UPLOAD).
	BackendURL string `json:"backendUrl,omitempty"`
}

// CommandResponse is the envelope for a command result.
type CommandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// Duplicate is set for ENTER_BILLING when an identical entry already
	// existed and no submission was made.
	Duplicate bool `json:"duplicate,omitempty"`

	// Status is the resulting item status for VISIT_ONE.
	Status string `json:"status,omitempty"`

	// Items lists scraped records for SCRAPE_LIST.
	Items []ItemSummary `json:"items,omitempty"`
}

// ItemSummary is the external view of one queue entry.
type ItemSummary struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	PageAnchor int    `json:"pageAnchor"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// OKResponse builds a success envelope.
func OKResponse() CommandResponse {
	return CommandResponse{OK: true}
}

// ErrorResponse builds a failure envelope.
func ErrorResponse(err error) CommandResponse {
	if err == nil {
		return CommandResponse{OK: true}
	}
	return CommandResponse{OK: false, Error: err.Error()}
}
