package model

// Status is the canonical classification outcome for a race result.
type Status string

const (
	StatusFinished Status = "Finished"
	StatusDNF      Status = "DNF"
	StatusDNS      Status = "DNS"
	StatusDSQ      Status = "DSQ"
	StatusWithdrew Status = "Withdrew"
	StatusUnknown  Status = "Unknown"
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFinished, StatusDNF, StatusDNS, StatusDSQ, StatusWithdrew, StatusUnknown:
		return true
	}
	return false
}
