package ledger

// Status is the activity state exposed to the presentation layer.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusMining  Status = "mining"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

func (s Status) String() string {
	return string(s)
}
