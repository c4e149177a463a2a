package api

import (
	"context"

	"taskmate/domain"
)

// Engine is the task engine driven by the handlers.
type Engine interface {
	Refresh(ctx context.Context) ([]domain.Task, error)
	View(query string, status domain.StatusFilter) []domain.Task
	Stats() domain.Stats
	Create(ctx context.Context, fields domain.TaskFields) (domain.Task, error)
	Edit(ctx context.Context, id string) (domain.Draft, error)
	Save(ctx context.Context, d domain.Draft) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	ToggleCompletion(ctx context.Context, id string) (domain.Task, error)
}

// Session tracks the signed-in user.
type Session interface {
	CurrentUserID() (string, bool)
	SignIn(userID string)
	SignOut()
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// ProfileStore persists account profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error)
	UpsertProfile(ctx context.Context, userID string, p domain.Profile) (domain.Profile, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Deps groups the collaborators handed to Register. Profiles and Deduper
// may be nil.
type Deps struct {
	Engine   Engine
	Session  Session
	Auth     Authenticator
	Profiles ProfileStore
	Deduper  Deduper
}
