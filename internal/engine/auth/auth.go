package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
)

// ForbiddenError indicates the role lacks the capability for an action.
type ForbiddenError struct {
	Action string
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s is not authorized to %s", e.Role, e.Action)
}

// Inbox selects which service requests a role sees.
type Inbox string

const (
	InboxAll       Inbox = "all"
	InboxFinance   Inbox = "finance"
	InboxReview    Inbox = "review"
	InboxSubmitted Inbox = "submitted"
)

// Capabilities is the single authority for what a role may do.
type Capabilities struct {
	ViewDashboard  bool                 `json:"canViewDashboard"`
	ManageProjects bool                 `json:"canManageProjects"`
	Delete         bool                 `json:"canDelete"`
	ReviewFinance  bool                 `json:"canReviewFinance"`
	ReviewPR       bool                 `json:"canReviewPR"`
	ManageUsers    bool                 `json:"canManageUsers"`
	SubmitTypes    []domain.RequestType `json:"canSubmitTypes"`
	Inbox          Inbox                `json:"inbox"`
	LandingView    string               `json:"landingView"`
}

var both = []domain.RequestType{domain.RequestTechnical, domain.RequestConveyance}

var capabilities = map[domain.Role]Capabilities{
	domain.RoleAdmin: {
		ViewDashboard: true, ManageProjects: true, Delete: true, ReviewPR: true, ManageUsers: true,
		SubmitTypes: both, Inbox: InboxAll, LandingView: "DASHBOARD",
	},
	domain.RolePRManager: {
		ViewDashboard: true, ManageProjects: true, Delete: true, ReviewPR: true,
		SubmitTypes: both, Inbox: InboxAll, LandingView: "DASHBOARD",
	},
	domain.RolePROfficer: {
		ViewDashboard: true, ManageProjects: true, ReviewPR: true,
		SubmitTypes: both, Inbox: InboxReview, LandingView: "DASHBOARD",
	},
	domain.RoleFinance: {
		ReviewFinance: true, Inbox: InboxFinance, LandingView: "REQUESTS",
	},
	domain.RoleTechnical: {
		SubmitTypes: []domain.RequestType{domain.RequestTechnical}, Inbox: InboxSubmitted, LandingView: "SERVICE_ONLY",
	},
	domain.RoleConveyance: {
		SubmitTypes: []domain.RequestType{domain.RequestConveyance}, Inbox: InboxSubmitted, LandingView: "SERVICE_ONLY",
	},
}

// For returns the capability record of a role. Unknown roles get nothing.
func For(role domain.Role) Capabilities {
	c, ok := capabilities[role]
	if !ok {
		return Capabilities{}
	}
	c.SubmitTypes = append([]domain.RequestType(nil), c.SubmitTypes...)
	return c
}

func (c Capabilities) CanSubmit(t domain.RequestType) bool {
	for _, allowed := range c.SubmitTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Sees reports whether a request belongs in the inbox of user.
func (c Capabilities) Sees(user domain.User, r domain.ServiceRequest) bool {
	switch c.Inbox {
	case InboxAll:
		return true
	case InboxFinance:
		return r.Status == domain.StatusPendingFinance
	case InboxReview:
		return r.Status == domain.StatusNew || r.Status == domain.StatusPendingPR || r.Status == domain.StatusRevision
	case InboxSubmitted:
		if r.SubmitterID != "" {
			return r.SubmitterID == user.ID
		}
		return r.SubmittedBy == user.Name
	}
	return false
}

// HashPassword returns a salted bcrypt hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares against the bcrypt hash, falling back to the legacy
// plaintext field for records that were never upgraded.
func CheckPassword(u domain.User, password string) bool {
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	if u.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// NormalizeEmail is the key used for login lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate finds the user matching email and password. Every failure
// returns domain.ErrInvalidCredentials.
func Authenticate(users []domain.User, email, password string) (domain.User, error) {
	key := NormalizeEmail(email)
	if key == "" || password == "" {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	for _, u := range users {
		if NormalizeEmail(u.Email) != key {
			continue
		}
		if CheckPassword(u, password) {
			return u, nil
		}
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return domain.User{}, domain.ErrInvalidCredentials
}
