package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbroker/pkg/types"
)

// Registry maps user ids to profiles and enforces case-insensitive
// uniqueness of display names among registered users.
// TECHNICAL DISCOVERY: One mutex covers both maps so the name check and the
// insert in Register are a single atomic step.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*types.User // userID -> User
	byName  map[string]string      // folded display name -> userID
	maxName int
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxNameLength caps display names, counted in runes. Zero disables.
func WithMaxNameLength(n int) Option {
	return func(r *Registry) { r.maxName = n }
}

// WithClock replaces time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		users:  make(map[string]*types.User),
		byName: make(map[string]string),
		now:    types.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsNameTaken compares the trimmed, case-folded name against all
// registered users.
func (r *Registry) IsNameTaken(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, taken := r.byName[types.FoldName(name)]
	return taken
}

// Register stores a new connected user under a freshly minted id.
func (r *Registry) Register(name string) (types.User, error) {
	if err := types.ValidateName(name, r.maxName); err != nil {
		return types.User{}, err
	}
	display := types.NormalizeName(name)
	key := types.FoldName(display)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[key]; taken {
		return types.User{}, types.ErrNameConflict
	}

	now := r.now()
	user := &types.User{
		ID:           uuid.NewString(),
		DisplayName:  display,
		Connected:    true,
		LastActiveAt: now,
		JoinedAt:     now,
	}
	r.users[user.ID] = user
	r.byName[key] = user.ID
	return *user, nil
}

// LookupByID returns a copy of the user with the given id.
func (r *Registry) LookupByID(id string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, false
	}
	return *user, true
}

// LookupByName finds a user by display name, ignoring case and surrounding
// whitespace.
func (r *Registry) LookupByName(name string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[types.FoldName(name)]
	if !ok {
		return types.User{}, false
	}
	return *r.users[id], true
}

// Touch records activity for the user.
func (r *Registry) Touch(id string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, false
	}
	user.LastActiveAt = r.now()
	return *user, true
}

// SetConnected flips the connected flag and counts as activity.
func (r *Registry) SetConnected(id string, connected bool) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, false
	}
	user.Connected = connected
	user.LastActiveAt = r.now()
	return *user, true
}

// Remove deletes the user. It returns the removed profile and false when
// the id was not registered.
func (r *Registry) Remove(id string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, false
	}
	delete(r.users, id)
	delete(r.byName, types.FoldName(user.DisplayName))
	return *user, true
}

// RemoveIdle deletes the user only if it is still disconnected and idle
// since before the cutoff, checked in the same step as the delete.
func (r *Registry) RemoveIdle(id string, cutoff time.Time) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.Connected || !user.LastActiveAt.Before(cutoff) {
		return types.User{}, false
	}
	delete(r.users, id)
	delete(r.byName, types.FoldName(user.DisplayName))
	return *user, true
}

// Users returns copies of all registered users ordered by join time.
func (r *Registry) Users() []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]types.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	return users
}

// Roster returns the {id, name} pairs of all registered users.
func (r *Registry) Roster() []types.RosterEntry {
	users := r.Users()
	roster := make([]types.RosterEntry, len(users))
	for i, u := range users {
		roster[i] = u.Entry()
	}
	return roster
}

// Unbound returns users that are not connected and have been idle since
// before the cutoff.
func (r *Registry) Unbound(cutoff time.Time) []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []types.User
	for _, u := range r.users {
		if !u.Connected && u.LastActiveAt.Before(cutoff) {
			stale = append(stale, *u)
		}
	}
	return stale
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
