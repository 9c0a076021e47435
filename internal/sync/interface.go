// Package sync provides the login reconciliation service: the one-shot
// merge of local and remote collections at the start of an
// authenticated session.
package sync

import "context"

// Service is the reconciliation contract. It allows mocking in tests
// and alternative implementations.
type Service interface {
	// Run performs one reconciliation pass. It never fails the
	// session start: all failures degrade to "keep local data" and
	// are reported in the summary.
	Run(ctx context.Context) *Summary
}
