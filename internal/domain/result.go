package domain

// CalcStatus is the outcome kind of a calculation phase.
type CalcStatus string

const (
	// StatusOK means the calculation completed and persisted its outputs.
	StatusOK CalcStatus = "ok"
	// StatusSkipped means the inputs did not support the calculation
	// (no PUBLIC positions, insufficient history, non-positive equity).
	// Skips are expected outcomes, not errors, and are never retried.
	StatusSkipped CalcStatus = "skipped"
	// StatusFailed means an internal error; the phase transaction rolled back.
	StatusFailed CalcStatus = "failed"
)

// Common skip reasons. Free-form reasons are allowed; these cover the
// structured cases the orchestrator and tests switch on.
const (
	SkipNoPublicPositions = "no_public_positions"
	SkipNoPositions       = "no_positions"
	SkipNonPositiveEquity = "non_positive_equity"
	SkipInsufficientData  = "insufficient_data"
	SkipNoSymbolBetas     = "no_symbol_betas"
	SkipAlreadyComplete   = "already_complete"
)

// CalcResult is the structured outcome of one calculation phase. Engines
// report skips and failures as data rather than panicking; the orchestrator
// switches on Status to decide continue/abort.
type CalcResult struct {
	Status     CalcStatus
	SkipReason string
	Err        error
	// Diagnostics carries non-fatal notes (e.g. symbols without beta coverage).
	Diagnostics map[string]string
}

// OK returns a successful result.
func OK() CalcResult {
	return CalcResult{Status: StatusOK}
}

// Skipped returns a skip result with a reason.
func Skipped(reason string) CalcResult {
	return CalcResult{Status: StatusSkipped, SkipReason: reason}
}

// Failed wraps an internal error.
func Failed(err error) CalcResult {
	return CalcResult{Status: StatusFailed, Err: err}
}

// IsOK reports whether the phase completed.
func (r CalcResult) IsOK() bool { return r.Status == StatusOK }

// IsSkipped reports whether the phase was skipped.
func (r CalcResult) IsSkipped() bool { return r.Status == StatusSkipped }

// IsFailed reports whether the phase failed.
func (r CalcResult) IsFailed() bool { return r.Status == StatusFailed }

// WithDiagnostic attaches a key/value note to the result.
func (r CalcResult) WithDiagnostic(key, value string) CalcResult {
	if r.Diagnostics == nil {
		r.Diagnostics = make(map[string]string)
	}
	r.Diagnostics[key] = value
	return r
}
