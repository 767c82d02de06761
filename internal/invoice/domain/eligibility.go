package domain

import "fmt"

type ReasonCode string

const (
	ReasonPeriodExists     ReasonCode = "PERIOD_EXISTS"
	ReasonMaxUnpaidReached ReasonCode = "MAX_UNPAID_REACHED"
	ReasonCanGenerate      ReasonCode = "CAN_GENERATE"
)

type EligibilityResult struct {
	CanGenerate bool
	Reason      ReasonCode
	UnpaidCount int
}

// EvaluateEligibility applies the invoicing rules: one invoice per period,
// and no new invoice once maxUnpaid invoices are outstanding.
func EvaluateEligibility(periodExists bool, unpaid, maxUnpaid int) EligibilityResult {
	if periodExists {
		return EligibilityResult{CanGenerate: false, Reason: ReasonPeriodExists, UnpaidCount: unpaid}
	}
	if unpaid >= maxUnpaid {
		return EligibilityResult{CanGenerate: false, Reason: ReasonMaxUnpaidReached, UnpaidCount: unpaid}
	}
	return EligibilityResult{CanGenerate: true, Reason: ReasonCanGenerate, UnpaidCount: unpaid}
}

// NotEligibleError carries the evaluation that blocked generation.
type NotEligibleError struct {
	Result EligibilityResult
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("not_eligible: %s (unpaid=%d)", e.Result.Reason, e.Result.UnpaidCount)
}

func (e *NotEligibleError) Unwrap() error {
	return ErrNotEligible
}
