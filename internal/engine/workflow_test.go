package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
)

func TestConveyanceHappyPath(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	conv := env.login(t, "conveyance@dar.sa")
	finance := env.login(t, "finance@dar.sa")
	manager := env.login(t, "manager@dar.sa")

	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "X", Location: "الرياض"})
	require.NoError(t, err)

	r, err := env.Engine.CreateRequest(env.Ctx, conv, engine.RequestDraft{ProjectName: "X", ClientName: "أحمد", DeedNumber: "4410"})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestConveyance, r.Type)
	assert.Equal(t, domain.StatusPendingFinance, r.Status)
	assert.Equal(t, "إفراغ: أحمد", r.Name)
	require.Len(t, r.History, 1)
	assert.Equal(t, domain.ActionCreated, r.History[0].Action)

	r, err = env.Engine.TransitionRequest(env.Ctx, finance, r.ID, domain.StatusNew, "الدفعة مستلمة")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, r.Status)
	assert.Equal(t, "الدفعة مستلمة", r.FinanceNotes)

	r, err = env.Engine.TransitionRequest(env.Ctx, manager, r.ID, domain.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, r.Status)
	require.Len(t, r.History, 3)
	assert.Equal(t, domain.StatusAction(domain.StatusCompleted), r.History[2].Action)
	assert.Equal(t, manager.Name, r.History[2].By)
	assert.Equal(t, domain.RolePRManager, r.History[2].Role)

	p := env.project(t, "X")
	require.Len(t, p.Tasks, 1)
	task := p.Tasks[0]
	assert.Equal(t, "req-"+r.ID, task.ID)
	assert.Equal(t, domain.TaskDone, task.Status)
	assert.Equal(t, "كتابة العدل", task.Reviewer)
	assert.Equal(t, conv.Name, task.Requester)
	assert.Equal(t, "الرياض", task.Location)
	assert.Equal(t, "2025-12-09", task.Date)
	assert.Equal(t, 1, p.TotalTasks)
	assert.Equal(t, 1, p.CompletedTasks)
	assert.Equal(t, 100, p.Progress)
}

func TestTechnicalCompletionRecomputesCounters(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	tech := env.login(t, "tech@dar.sa")
	officer := env.login(t, "officer@dar.sa")

	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P", Location: "جدة"})
	require.NoError(t, err)
	for i, status := range []string{domain.TaskDone, domain.TaskInProgress, domain.TaskInProgress} {
		_, err := env.Engine.AddTask(env.Ctx, admin, "P", engine.TaskDraft{Description: fmt.Sprint("task ", i), Status: status})
		require.NoError(t, err)
	}
	require.Equal(t, 33, env.project(t, "P").Progress)

	r, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ProjectName: "P", ServiceSubType: "شبكة الري", Authority: "أمانة منطقة الرياض"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, r.Status)
	assert.Equal(t, "شبكة الري", r.Name)

	_, err = env.Engine.TransitionRequest(env.Ctx, officer, r.ID, domain.StatusCompleted, "")
	require.NoError(t, err)

	p := env.project(t, "P")
	assert.Equal(t, 4, p.TotalTasks)
	assert.Equal(t, 2, p.CompletedTasks)
	assert.Equal(t, 50, p.Progress)
	assert.Equal(t, "req-"+r.ID, p.Tasks[0].ID)
	assert.Equal(t, "أمانة منطقة الرياض", p.Tasks[0].Reviewer)
}

func TestFinanceCannotActOnNewRequest(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	tech := env.login(t, "tech@dar.sa")
	finance := env.login(t, "finance@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P"})
	require.NoError(t, err)
	r, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ProjectName: "P", ServiceSubType: "بلاغ سرقة"})
	require.NoError(t, err)

	before, err := env.Store.Load(env.Ctx, engine.KeyRequests)
	require.NoError(t, err)

	_, err = env.Engine.TransitionRequest(env.Ctx, finance, r.ID, domain.StatusCompleted, "")
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.RoleFinance, fe.Role)

	after, err := env.Store.Load(env.Ctx, engine.KeyRequests)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	got, _, err := env.Engine.GetRequest(env.Ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, got.Status)
	assert.Len(t, got.History, 1)
}

func TestTerminalRequestsAreFrozen(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P"})
	require.NoError(t, err)
	r, err := env.Engine.CreateRequest(env.Ctx, admin, engine.RequestDraft{ProjectName: "P", ServiceSubType: "شهادات الاشغال"})
	require.NoError(t, err)
	_, err = env.Engine.TransitionRequest(env.Ctx, admin, r.ID, domain.StatusRejected, "ناقص مستندات")
	require.NoError(t, err)

	for _, email := range []string{"admin@dar.sa", "manager@dar.sa", "officer@dar.sa", "finance@dar.sa", "tech@dar.sa", "conveyance@dar.sa"} {
		actor := env.login(t, email)
		for _, to := range domain.Statuses {
			_, err := env.Engine.TransitionRequest(env.Ctx, actor, r.ID, to, "")
			var fe auth.ForbiddenError
			assert.ErrorAsf(t, err, &fe, "%s -> %s by %s", domain.StatusRejected, to, email)
		}
	}
	got, _, err := env.Engine.GetRequest(env.Ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "ناقص مستندات", got.RejectionReason)
	assert.Len(t, got.History, 2)
}

func TestCompletionWithMissingProject(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "Gone"})
	require.NoError(t, err)
	r, err := env.Engine.CreateRequest(env.Ctx, admin, engine.RequestDraft{ProjectName: "Gone", ServiceSubType: "الترخيص البيئي"})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteProject(env.Ctx, admin, "Gone"))

	r, err = env.Engine.TransitionRequest(env.Ctx, admin, r.ID, domain.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, r.Status)
	projects, err := env.Engine.ListProjects(env.Ctx, admin, engine.ProjectFilter{})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestRequestCommentsKeepStatus(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	conv := env.login(t, "conveyance@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P"})
	require.NoError(t, err)
	r, err := env.Engine.CreateRequest(env.Ctx, conv, engine.RequestDraft{ProjectName: "P", ClientName: "منى"})
	require.NoError(t, err)

	_, err = env.Engine.AddRequestComment(env.Ctx, conv, r.ID, "تم رفع الصك")
	require.NoError(t, err)
	_, err = env.Engine.AddRequestComment(env.Ctx, admin, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, _, err := env.Engine.GetRequest(env.Ctx, admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingFinance, got.Status)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, conv.Name, got.Comments[0].Author)
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	tech := env.login(t, "tech@dar.sa")
	conv := env.login(t, "conveyance@dar.sa")
	finance := env.login(t, "finance@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P"})
	require.NoError(t, err)

	t.Run("project required", func(t *testing.T) {
		_, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ServiceSubType: "x"})
		var ve domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "projectName", ve.Field)
	})
	t.Run("unknown project", func(t *testing.T) {
		_, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ProjectName: "Nope", ServiceSubType: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
	t.Run("technical staff cannot file conveyance", func(t *testing.T) {
		_, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{Type: domain.RequestConveyance, ProjectName: "P", ClientName: "x"})
		var fe auth.ForbiddenError
		assert.ErrorAs(t, err, &fe)
	})
	t.Run("finance submits nothing", func(t *testing.T) {
		_, err := env.Engine.CreateRequest(env.Ctx, finance, engine.RequestDraft{ProjectName: "P", ServiceSubType: "x"})
		var fe auth.ForbiddenError
		assert.ErrorAs(t, err, &fe)
	})
	t.Run("conveyance needs client", func(t *testing.T) {
		_, err := env.Engine.CreateRequest(env.Ctx, conv, engine.RequestDraft{ProjectName: "P"})
		var ve domain.ValidationError
		assert.ErrorAs(t, err, &ve)
	})
	t.Run("other service uses details as name", func(t *testing.T) {
		r, err := env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ProjectName: "P", ServiceSubType: engine.OtherService, OtherServiceDetails: "تسوير الموقع"})
		require.NoError(t, err)
		assert.Equal(t, "تسوير الموقع", r.Name)
	})
	t.Run("admin conveyance skips finance", func(t *testing.T) {
		r, err := env.Engine.CreateRequest(env.Ctx, admin, engine.RequestDraft{Type: domain.RequestConveyance, ProjectName: "P", ClientName: "x"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusNew, r.Status)
	})
}

func TestRoleInboxes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@dar.sa")
	tech := env.login(t, "tech@dar.sa")
	conv := env.login(t, "conveyance@dar.sa")
	finance := env.login(t, "finance@dar.sa")
	officer := env.login(t, "officer@dar.sa")
	_, err := env.Engine.CreateProject(env.Ctx, admin, engine.NewProject{Name: "P"})
	require.NoError(t, err)
	_, err = env.Engine.CreateRequest(env.Ctx, tech, engine.RequestDraft{ProjectName: "P", ServiceSubType: "a"})
	require.NoError(t, err)
	_, err = env.Engine.CreateRequest(env.Ctx, conv, engine.RequestDraft{ProjectName: "P", ClientName: "b"})
	require.NoError(t, err)

	count := func(u domain.User) int {
		rs, err := env.Engine.ListRequests(env.Ctx, u, engine.RequestFilter{})
		require.NoError(t, err)
		return len(rs)
	}
	assert.Equal(t, 2, count(admin))
	assert.Equal(t, 1, count(tech))
	assert.Equal(t, 1, count(conv))
	assert.Equal(t, 1, count(finance))
	assert.Equal(t, 1, count(officer))

	rs, err := env.Engine.ListRequests(env.Ctx, admin, engine.RequestFilter{Type: domain.RequestConveyance})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	_, allowed, err := env.Engine.GetRequest(env.Ctx, finance, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.RequestStatus{domain.StatusNew, domain.StatusRejected}, allowed)
}

// TestTransitionTableIsExhaustive drives every (state, role, target) triple
// against a freshly loaded request and checks that exactly the documented
// moves succeed.
func TestTransitionTableIsExhaustive(t *testing.T) {
	allowed := map[string]bool{}
	allow := func(from domain.RequestStatus, rt domain.RequestType, roles []domain.Role, to ...domain.RequestStatus) {
		for _, role := range roles {
			for _, s := range to {
				allowed[fmt.Sprint(from, rt, role, s)] = true
			}
		}
	}
	pr := []domain.Role{domain.RoleAdmin, domain.RolePRManager, domain.RolePROfficer}
	for _, rt := range []domain.RequestType{domain.RequestTechnical, domain.RequestConveyance} {
		for _, from := range []domain.RequestStatus{domain.StatusNew, domain.StatusPendingPR, domain.StatusRevision} {
			allow(from, rt, pr, domain.StatusCompleted, domain.StatusRejected, domain.StatusRevision)
		}
	}
	allow(domain.StatusPendingFinance, domain.RequestConveyance, []domain.Role{domain.RoleFinance}, domain.StatusNew, domain.StatusRejected)

	emails := map[domain.Role]string{
		domain.RoleAdmin: "admin@dar.sa", domain.RolePRManager: "manager@dar.sa", domain.RolePROfficer: "officer@dar.sa",
		domain.RoleFinance: "finance@dar.sa", domain.RoleTechnical: "tech@dar.sa", domain.RoleConveyance: "conveyance@dar.sa",
	}
	store := newMemStore()
	seed := newEngine(t, store)
	actors := map[domain.Role]domain.User{}
	for role, email := range emails {
		u, err := seed.Login(context.Background(), email, "123")
		require.NoError(t, err)
		actors[role] = u
	}
	for _, rt := range []domain.RequestType{domain.RequestTechnical, domain.RequestConveyance} {
		for _, from := range domain.Statuses {
			req := domain.ServiceRequest{ID: "r", Name: "n", Type: rt, ProjectName: "P", Status: from,
				History: []domain.HistoryEntry{{Action: domain.ActionCreated}}}
			raw, err := json.Marshal([]domain.ServiceRequest{req})
			require.NoError(t, err)

			for _, role := range domain.Roles {
				for _, to := range domain.Statuses {
					store.data[engine.KeyRequests] = raw
					e := newEngine(t, store)
					_, err := e.TransitionRequest(context.Background(), actors[role], "r", to, "")
					key := fmt.Sprint(from, rt, role, to)
					if allowed[key] {
						assert.NoErrorf(t, err, "%s %s: %s -> %s", rt, role, from, to)
						assert.True(t, contains(engine.AllowedTransitions(req, role), to))
						continue
					}
					var fe auth.ForbiddenError
					assert.ErrorAsf(t, err, &fe, "%s %s: %s -> %s should be refused", rt, role, from, to)
				}
			}
		}
	}
}

func contains(list []domain.RequestStatus, s domain.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
