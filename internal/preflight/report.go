package preflight

// Summary statuses of a pass.
const (
	SummaryReady             = "ready"
	SummaryReadyWithWarnings = "ready_with_warnings"
	SummaryFailed            = "failed"
)

// SummaryStatus returns a summary status string for the ledger.
func SummaryStatus(records []Record) string {
	hasWarnings := false
	for _, r := range records {
		if r.Status == StatusFail {
			return SummaryFailed
		}
		if len(r.Warnings) > 0 {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return SummaryReadyWithWarnings
	}
	return SummaryReady
}
