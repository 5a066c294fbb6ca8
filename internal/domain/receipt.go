package domain

import "strings"

// AggregateStatus resolves the sender-facing status of a message from
// its receipt rows: read only when every recipient has read it,
// delivered while any receipt is still outstanding, sent when no
// receipts exist at all.
func AggregateStatus(receipts []Receipt) string {
	if len(receipts) == 0 {
		return StatusSent
	}
	for _, r := range receipts {
		if r.Status != StatusRead {
			return StatusDelivered
		}
	}
	return StatusRead
}

// ViewerStatus resolves the reader-facing status of a message the
// viewer did not send: the viewer's own receipt status, defaulting to
// delivered when no receipt exists.
func ViewerStatus(status string) string {
	if status == "" {
		return StatusDelivered
	}
	return status
}

// DisplayName picks a human-facing name for a sender: stored first
// name, else the capitalized local-part of the email.
func DisplayName(firstName, email string) string {
	if firstName != "" {
		return firstName
	}
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return strings.ToUpper(local[:1]) + local[1:]
}
