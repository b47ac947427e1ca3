package engine

import (
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
)

// transition is one row of the request workflow: requests of the given types
// (all types when empty) in a source state may move to any of To when the
// actor's capabilities satisfy Allowed.
type transition struct {
	Types   []domain.RequestType
	Allowed func(auth.Capabilities) bool
	To      []domain.RequestStatus
}

func financeReviewer(c auth.Capabilities) bool { return c.ReviewFinance }
func prReviewer(c auth.Capabilities) bool      { return c.ReviewPR }

var prReview = transition{
	Allowed: prReviewer,
	To:      []domain.RequestStatus{domain.StatusCompleted, domain.StatusRejected, domain.StatusRevision},
}

// workflow maps each non-terminal state to its outgoing rows. States absent
// from the table have no exits.
var workflow = map[domain.RequestStatus][]transition{
	domain.StatusPendingFinance: {{
		Types:   []domain.RequestType{domain.RequestConveyance},
		Allowed: financeReviewer,
		To:      []domain.RequestStatus{domain.StatusNew, domain.StatusRejected},
	}},
	domain.StatusNew:       {prReview},
	domain.StatusPendingPR: {prReview},
	domain.StatusRevision:  {prReview},
}

func (t transition) applies(rt domain.RequestType) bool {
	if len(t.Types) == 0 {
		return true
	}
	for _, allowed := range t.Types {
		if allowed == rt {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the states role may move r to, in table order.
func AllowedTransitions(r domain.ServiceRequest, role domain.Role) []domain.RequestStatus {
	caps := auth.For(role)
	out := []domain.RequestStatus{}
	for _, row := range workflow[r.Status] {
		if !row.applies(r.Type) || !row.Allowed(caps) {
			continue
		}
		out = append(out, row.To...)
	}
	return out
}

func canTransition(r domain.ServiceRequest, role domain.Role, to domain.RequestStatus) bool {
	for _, s := range AllowedTransitions(r, role) {
		if s == to {
			return true
		}
	}
	return false
}

// initialStatus is pending_finance for conveyance requests raised outside
// the PR team and new otherwise.
func initialStatus(t domain.RequestType, caps auth.Capabilities) domain.RequestStatus {
	if t == domain.RequestConveyance && !caps.ReviewPR {
		return domain.StatusPendingFinance
	}
	return domain.StatusNew
}
