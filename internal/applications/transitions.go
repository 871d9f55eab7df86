package applications

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
)

// Transition returns a copy of a in status to. The receiver is never
// modified. A final decision requires validated documents, and UpdatedAt
// only moves forward.
func (a Application) Transition(to Status, at time.Time) (Application, error) {
	if !statusMachine.CanTransition(string(a.Status), string(to)) {
		return a, fmt.Errorf("application %s cannot move from %s to %s: %w",
			a.ID, a.Status, to, apperrors.ErrInvalidTransition)
	}
	if (to == StatusApproved || to == StatusRejected) && !a.DocumentsValidated {
		return a, fmt.Errorf("application %s cannot move to %s before its documents are validated: %w",
			a.ID, to, apperrors.ErrInvalidTransition)
	}

	next := a.clone()
	next.Status = to
	if at.After(next.UpdatedAt) {
		next.UpdatedAt = at
	}
	return next, nil
}

// IsFinal reports whether the application can no longer change status
func (a Application) IsFinal() bool {
	return statusMachine.IsTerminal(string(a.Status))
}

// AllowedTransitions lists the statuses reachable from the current one
func (a Application) AllowedTransitions() []string {
	return statusMachine.GetAllowedTransitions(string(a.Status))
}

// ApplyPatch copies the present fields of p onto a copy of a. Absent fields
// never clear a value set by an earlier run.
func (a Application) ApplyPatch(p Patch) Application {
	next := a.clone()
	if p.IdentityNumber != nil {
		v := *p.IdentityNumber
		next.IdentityNumber = &v
	}
	if p.TaxID != nil {
		v := *p.TaxID
		next.TaxID = &v
	}
	if p.Age != nil {
		v := *p.Age
		next.Age = &v
	}
	if p.VerifiedAnnualIncome != nil {
		next.VerifiedAnnualIncome = decimal.NewNullDecimal(*p.VerifiedAnnualIncome)
	}
	if p.ExistingLoans != nil {
		next.ExistingLoans = append([]string{}, p.ExistingLoans...)
	}
	return next
}

func (a Application) clone() Application {
	c := a
	if a.IdentityNumber != nil {
		v := *a.IdentityNumber
		c.IdentityNumber = &v
	}
	if a.TaxID != nil {
		v := *a.TaxID
		c.TaxID = &v
	}
	if a.Age != nil {
		v := *a.Age
		c.Age = &v
	}
	if a.ExistingLoans != nil {
		c.ExistingLoans = append([]string{}, a.ExistingLoans...)
	}
	return c
}
