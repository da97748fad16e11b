// Package quota tracks per-caller daily request, token and cost ceilings.
//
// Days are UTC calendar days. A caller denied by any ceiling is told to
// retry at the next UTC midnight, since quotas never reset partially.
// Requests without a caller ID are not subject to quotas.
package quota
