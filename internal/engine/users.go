package engine

import (
	"context"
	"strings"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// Login authenticates by email and password. Accounts still holding a legacy
// plaintext password are upgraded to a bcrypt hash on success.
func (e *Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, err := auth.Authenticate(e.users, email, password)
	if err != nil {
		e.Log.Warn("login rejected", "email", auth.NormalizeEmail(email))
		return domain.User{}, err
	}
	if u.PasswordHash == "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return domain.User{}, err
		}
		for i := range e.users {
			if e.users[i].ID == u.ID {
				e.users[i].PasswordHash = hash
				e.users[i].Password = ""
			}
		}
		e.persist(ctx, events.Action{Type: "user.password_upgraded", EntityKind: "user", EntityID: u.ID, ActorID: u.Email}, KeyUsers)
	}
	return u.Public(), nil
}

// User returns the account with id, without credentials.
func (e *Engine) User(id string) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.users {
		if u.ID == id {
			return u.Public(), nil
		}
	}
	return domain.User{}, domain.NotFoundError{Kind: "user", ID: id}
}

func (e *Engine) ListUsers(ctx context.Context, actor domain.User) ([]domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return nil, err
	}
	if !caps.ManageUsers {
		return nil, forbid(actor, "list users")
	}
	out := make([]domain.User, 0, len(e.users))
	for _, u := range e.users {
		out = append(out, u.Public())
	}
	return out, nil
}

type NewUser struct {
	Name     string
	Email    string
	Role     domain.Role
	Password string
}

func (e *Engine) CreateUser(ctx context.Context, actor domain.User, in NewUser) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.User{}, err
	}
	if !caps.ManageUsers {
		return domain.User{}, forbid(actor, "create users")
	}
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" {
		return domain.User{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, domain.ValidationError{Field: "email", Reason: "a valid email is required"}
	}
	if in.Role == "" {
		in.Role = domain.RolePROfficer
	}
	if !in.Role.Valid() {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: "unknown role " + string(in.Role)}
	}
	if in.Password == "" {
		return domain.User{}, domain.ValidationError{Field: "password", Reason: "required"}
	}
	for _, u := range e.users {
		if auth.NormalizeEmail(u.Email) == auth.NormalizeEmail(email) {
			return domain.User{}, domain.ValidationError{Field: "email", Reason: "already registered"}
		}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{ID: e.newID(), Name: name, Email: email, Role: in.Role, PasswordHash: hash}
	e.users = append(e.users, u)
	e.persist(ctx, events.Action{Type: "user.created", EntityKind: "user", EntityID: u.ID, ActorID: actor.Email,
		Payload: events.EventPayload{"role": u.Role}}, KeyUsers)
	return u.Public(), nil
}

func (e *Engine) DeleteUser(ctx context.Context, actor domain.User, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return err
	}
	if !caps.ManageUsers {
		return forbid(actor, "delete users")
	}
	if id == actor.ID {
		return domain.ValidationError{Field: "id", Reason: "cannot delete the signed-in account"}
	}
	for i, u := range e.users {
		if u.ID == id {
			e.users = append(e.users[:i], e.users[i+1:]...)
			e.persist(ctx, events.Action{Type: "user.deleted", EntityKind: "user", EntityID: id, ActorID: actor.Email}, KeyUsers)
			return nil
		}
	}
	return domain.NotFoundError{Kind: "user", ID: id}
}

// SetUserRole is the administrative overwrite of an account's role.
func (e *Engine) SetUserRole(ctx context.Context, actor domain.User, id string, role domain.Role) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.User{}, err
	}
	if !caps.ManageUsers {
		return domain.User{}, forbid(actor, "change roles")
	}
	if !role.Valid() {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}
	for i := range e.users {
		if e.users[i].ID != id {
			continue
		}
		from := e.users[i].Role
		e.users[i].Role = role
		e.persist(ctx, events.Action{Type: "user.role_changed", EntityKind: "user", EntityID: id, ActorID: actor.Email,
			Payload: events.EventPayload{"from": from, "to": role}}, KeyUsers)
		return e.users[i].Public(), nil
	}
	return domain.User{}, domain.NotFoundError{Kind: "user", ID: id}
}

// Capabilities returns the capability record for the current role of actor.
func (e *Engine) Capabilities(actor domain.User) (auth.Capabilities, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, caps, err := e.actor(actor)
	return caps, err
}
