package auth

import (
	"errors"
	"testing"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
)

func TestCapabilityTable(t *testing.T) {
	for _, role := range domain.Roles {
		c := For(role)
		if c.LandingView == "" {
			t.Fatalf("role %s has no landing view", role)
		}
		if c.ReviewFinance && c.ReviewPR {
			t.Fatalf("role %s reviews both stages", role)
		}
	}
	if !For(domain.RoleAdmin).ManageUsers || For(domain.RolePRManager).ManageUsers {
		t.Fatalf("only ADMIN manages users")
	}
	if For(domain.RolePROfficer).Delete {
		t.Fatalf("PR_OFFICER must not delete")
	}
	if !For(domain.RolePROfficer).ReviewPR {
		t.Fatalf("PR_OFFICER reviews requests")
	}
	if !For(domain.RoleFinance).ReviewFinance || For(domain.RoleFinance).ViewDashboard {
		t.Fatalf("FINANCE capabilities wrong: %+v", For(domain.RoleFinance))
	}
	if For(domain.RoleTechnical).CanSubmit(domain.RequestConveyance) || !For(domain.RoleTechnical).CanSubmit(domain.RequestTechnical) {
		t.Fatalf("TECHNICAL submits technical only")
	}
	if For(domain.RoleConveyance).CanSubmit(domain.RequestTechnical) || !For(domain.RoleConveyance).CanSubmit(domain.RequestConveyance) {
		t.Fatalf("CONVEYANCE submits conveyance only")
	}
	if c := For("OWNER"); c.ViewDashboard || c.CanSubmit(domain.RequestTechnical) {
		t.Fatalf("unknown role must have no capabilities")
	}
}

func TestForReturnsCopy(t *testing.T) {
	c := For(domain.RoleAdmin)
	c.SubmitTypes[0] = "other"
	if For(domain.RoleAdmin).SubmitTypes[0] != domain.RequestTechnical {
		t.Fatalf("capability table mutated through returned slice")
	}
}

func TestInboxVisibility(t *testing.T) {
	tech := domain.User{Name: "tech", Role: domain.RoleTechnical}
	mine := domain.ServiceRequest{SubmittedBy: "tech", Status: domain.StatusCompleted}
	other := domain.ServiceRequest{SubmittedBy: "someone", Status: domain.StatusNew}
	pending := domain.ServiceRequest{SubmittedBy: "someone", Status: domain.StatusPendingFinance}

	if !For(domain.RoleTechnical).Sees(tech, mine) || For(domain.RoleTechnical).Sees(tech, other) {
		t.Fatalf("submitter inbox wrong")
	}
	if !For(domain.RoleFinance).Sees(domain.User{}, pending) || For(domain.RoleFinance).Sees(domain.User{}, other) {
		t.Fatalf("finance inbox wrong")
	}
	if !For(domain.RolePROfficer).Sees(domain.User{}, other) || For(domain.RolePROfficer).Sees(domain.User{}, pending) {
		t.Fatalf("officer inbox wrong")
	}
	if !For(domain.RolePRManager).Sees(domain.User{}, pending) {
		t.Fatalf("manager sees everything")
	}
}

func TestSubmitterInboxMatchesByID(t *testing.T) {
	first := domain.User{ID: "7", Name: "م. أحمد", Role: domain.RoleTechnical}
	second := domain.User{ID: "8", Name: "م. أحمد", Role: domain.RoleTechnical}
	r := domain.ServiceRequest{SubmittedBy: "م. أحمد", SubmitterID: "7", Status: domain.StatusNew}
	caps := For(domain.RoleTechnical)
	if !caps.Sees(first, r) {
		t.Fatalf("submitter must see own request")
	}
	if caps.Sees(second, r) {
		t.Fatalf("namesake must not see another user's request")
	}
	legacy := domain.ServiceRequest{SubmittedBy: "م. أحمد", Status: domain.StatusNew}
	if !caps.Sees(second, legacy) {
		t.Fatalf("records without a submitter id fall back to the name")
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := []domain.User{
		{ID: "1", Email: "admin@dar.sa", Role: domain.RoleAdmin, PasswordHash: hash},
		{ID: "2", Email: "legacy@dar.sa", Role: domain.RoleFinance, Password: "123"},
	}
	u, err := Authenticate(users, " Admin@Dar.sa ", "s3cret")
	if err != nil || u.ID != "1" {
		t.Fatalf("expected admin, got %+v %v", u, err)
	}
	if u, err := Authenticate(users, "legacy@dar.sa", "123"); err != nil || u.Role != domain.RoleFinance {
		t.Fatalf("legacy login failed: %v", err)
	}
	_, wrongPassword := Authenticate(users, "admin@dar.sa", "nope")
	_, unknownEmail := Authenticate(users, "ghost@dar.sa", "s3cret")
	if !errors.Is(wrongPassword, domain.ErrInvalidCredentials) || !errors.Is(unknownEmail, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("failure messages must not reveal which field was wrong")
	}
	if _, err := Authenticate(users, "", ""); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("empty credentials must fail")
	}
}
