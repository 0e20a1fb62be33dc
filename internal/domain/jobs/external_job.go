package jobs

import "time"

type ExternalJobState string

const (
	ExternalJobSubmitted ExternalJobState = "submitted"
	ExternalJobPolling   ExternalJobState = "polling"
	ExternalJobSucceeded ExternalJobState = "succeeded"
	ExternalJobFailed    ExternalJobState = "failed"
	ExternalJobTimedOut  ExternalJobState = "timed_out"
)

func (s ExternalJobState) IsTerminal() bool {
	switch s {
	case ExternalJobSucceeded, ExternalJobFailed, ExternalJobTimedOut:
		return true
	default:
		return false
	}
}

// ExternalJob is one prompt submitted to the video generator. It lives until its clip is staged.
type ExternalJob struct {
	Prompt      string           `json:"prompt"`
	State       ExternalJobState `json:"state"`
	Handle      string           `json:"handle"`
	ResultURI   string           `json:"result_uri,omitempty"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Polls       int              `json:"polls"`
}
