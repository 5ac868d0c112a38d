package models

// ValidationResult is the server's verdict for one scanned payload.
// When Valid is false, Reason is display-ready text from the server.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Status    string `json:"status,omitempty"`
	Event     string `json:"event,omitempty"`
	User      string `json:"user,omitempty"`
	EventID   int    `json:"event_id,omitempty"`
	ScannedAt string `json:"scanned_at,omitempty"`
	ScannerID string `json:"scanner_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Scanner is a registered validation station.
type Scanner struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Location  string `json:"location"`
	Role      string `json:"role"`
	ScanCount int    `json:"scan_count"`
}
