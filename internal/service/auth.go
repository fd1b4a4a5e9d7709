package service

import (
	"context"
	"slices"
)

// Authorizer decides whether a user may execute batches and act on them.
// Authorized users act on their own batches; admins act on any batch.
type Authorizer interface {
	IsAuthorized(ctx context.Context, user string) (bool, error)
	IsAdmin(ctx context.Context, user string) (bool, error)
}

// AllowList authorizes a fixed set of users. The entry "*" authorizes
// everyone. Admins are always authorized.
type AllowList struct {
	all    bool
	users  map[string]bool
	admins map[string]bool
}

// NewAllowList builds an AllowList from configured user and admin names.
func NewAllowList(users, admins []string) *AllowList {
	a := &AllowList{
		all:    slices.Contains(users, "*"),
		users:  make(map[string]bool, len(users)+len(admins)),
		admins: make(map[string]bool, len(admins)),
	}
	for _, u := range users {
		a.users[u] = true
	}
	for _, u := range admins {
		a.users[u] = true
		a.admins[u] = true
	}
	return a
}

func (a *AllowList) IsAuthorized(_ context.Context, user string) (bool, error) {
	if user == "" {
		return false, nil
	}
	return a.all || a.users[user], nil
}

func (a *AllowList) IsAdmin(_ context.Context, user string) (bool, error) {
	return user != "" && a.admins[user], nil
}
