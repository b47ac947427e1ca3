package darsdk_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/config"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/db"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/migrate"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/repo"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/server"
	darsdk "github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/sdk/go"
)

func newAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	store := repo.New(conn)
	logger := log.New(io.Discard)
	e := engine.New(store, config.Default(), logger)
	require.NoError(t, e.Load(context.Background()))
	h, err := server.New(server.Config{
		Engine: e,
		Events: store,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", Logger: logger},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts.URL + "/v1"
}

func TestClientTechnicalFlow(t *testing.T) {
	ctx := context.Background()
	base := newAPI(t)

	admin := darsdk.New(base)
	session, err := admin.Login(ctx, "admin@dar.sa", "123")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", session.User.Role)
	assert.True(t, session.Capabilities.ManageUsers)

	_, err = admin.CreateProject(ctx, "Saraya", "جدة")
	require.NoError(t, err)
	for _, status := range []string{"منجز", "", ""} {
		_, err := admin.AddTask(ctx, "Saraya", "task", status)
		require.NoError(t, err)
	}

	tech := darsdk.New(base)
	_, err = tech.Login(ctx, "tech@dar.sa", "123")
	require.NoError(t, err)
	r, err := tech.CreateRequest(ctx, darsdk.NewRequest{ProjectName: "Saraya", ServiceSubType: "رخص البناء"})
	require.NoError(t, err)
	assert.Equal(t, "new", r.Status)

	mine, err := tech.ListRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	detail, err := admin.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"completed", "rejected", "revision"}, detail.AllowedTransitions)

	_, err = admin.TransitionRequest(ctx, r.ID, "completed", "")
	require.NoError(t, err)
	assert.Empty(t, admin.LastWarning)

	p, err := admin.GetProject(ctx, "Saraya")
	require.NoError(t, err)
	assert.Equal(t, 4, p.TotalTasks)
	assert.Equal(t, 2, p.CompletedTasks)
	assert.Equal(t, 50, p.Progress)

	page, err := admin.EventsPage(ctx, 5, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	base := newAPI(t)

	c := darsdk.New(base)
	_, err := c.Login(ctx, "admin@dar.sa", "nope")
	var apiErr *darsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	_, err = c.Login(ctx, "finance@dar.sa", "123")
	require.NoError(t, err)
	_, err = c.ListProjects(ctx, "", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
