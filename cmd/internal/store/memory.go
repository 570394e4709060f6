package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/invite"
)

// MemoryStore is an in-process Store for tests and DB-less dev runs.
//
// One mutex serializes every unit of work. InTx snapshots state first and
// restores the snapshot when fn fails, so partial writes are never visible.
type MemoryStore struct {
	mu        sync.Mutex
	st        *memState
	failpoint func(op string) error
}

type memberKey struct{ userID, familyID string }

type memState struct {
	users         map[string]identity.User
	families      map[string]identity.Family
	memberships   map[memberKey]identity.Membership
	tokens        map[string]identity.VerificationToken
	invites       map[string]invite.Invite
	familyInvites map[string]invite.FamilyInvite
	channels      map[string]identity.Channel
	messages      map[string]identity.Message
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithFailpoint installs a hook consulted before every write; a non-nil error aborts that write.
func WithFailpoint(fn func(op string) error) MemoryOption {
	return func(s *MemoryStore) { s.failpoint = fn }
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{st: newMemState()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func newMemState() *memState {
	return &memState{
		users:         make(map[string]identity.User),
		families:      make(map[string]identity.Family),
		memberships:   make(map[memberKey]identity.Membership),
		tokens:        make(map[string]identity.VerificationToken),
		invites:       make(map[string]invite.Invite),
		familyInvites: make(map[string]invite.FamilyInvite),
		channels:      make(map[string]identity.Channel),
		messages:      make(map[string]identity.Message),
	}
}

func (st *memState) clone() *memState {
	cp := newMemState()
	for k, v := range st.users {
		cp.users[k] = v
	}
	for k, v := range st.families {
		cp.families[k] = v
	}
	for k, v := range st.memberships {
		cp.memberships[k] = v
	}
	for k, v := range st.tokens {
		cp.tokens[k] = v
	}
	for k, v := range st.invites {
		cp.invites[k] = v
	}
	for k, v := range st.familyInvites {
		cp.familyInvites[k] = v
	}
	for k, v := range st.channels {
		cp.channels[k] = v
	}
	for k, v := range st.messages {
		cp.messages[k] = v
	}
	return cp
}

// View runs fn under the store lock.
func (s *MemoryStore) View(ctx context.Context, fn func(Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memRepo{st: s.st, failpoint: s.failpoint})
}

// InTx runs fn atomically: on error the pre-call state is restored.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memRepo{st: s.st, failpoint: s.failpoint}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *MemoryStore) Close() {}

type memRepo struct {
	st        *memState
	failpoint func(op string) error
}

func (r *memRepo) write(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failpoint != nil {
		return r.failpoint(op)
	}
	return nil
}

// ---- users ----

func (r *memRepo) CreateUser(ctx context.Context, u identity.User) error {
	const op = "store.CreateUser"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	if _, ok := r.st.users[u.ID]; ok {
		return identity.ConflictError{Op: op, Field: "id"}
	}
	for _, existing := range r.st.users {
		if existing.DeletedAt == nil && existing.Email == u.Email {
			return identity.ConflictError{Op: op, Field: "email"}
		}
	}
	r.st.users[u.ID] = u
	return nil
}

func (r *memRepo) GetUser(ctx context.Context, id string) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	u, ok := r.st.users[id]
	if !ok {
		return identity.User{}, identity.NotFoundError{Op: "store.GetUser", Resource: "user"}
	}
	return u, nil
}

func (r *memRepo) GetUserForUpdate(ctx context.Context, id string) (identity.User, error) {
	return r.GetUser(ctx, id)
}

func (r *memRepo) GetLiveUserByEmail(ctx context.Context, email string) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	for _, u := range r.st.users {
		if u.DeletedAt == nil && u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, identity.NotFoundError{Op: "store.GetLiveUserByEmail", Resource: "user"}
}

func (r *memRepo) GetUsers(ctx context.Context, ids []string) (map[string]identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]identity.User, len(ids))
	for _, id := range ids {
		if u, ok := r.st.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (r *memRepo) updateUser(ctx context.Context, op, id string, fn func(*identity.User)) error {
	if err := r.write(ctx, op); err != nil {
		return err
	}
	u, ok := r.st.users[id]
	if !ok {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	fn(&u)
	r.st.users[id] = u
	return nil
}

func (r *memRepo) SetActiveFamily(ctx context.Context, userID string, familyID *string, now time.Time) error {
	return r.updateUser(ctx, "store.SetActiveFamily", userID, func(u *identity.User) {
		u.ActiveFamilyID = copyStr(familyID)
		u.UpdatedAt = now
	})
}

func (r *memRepo) ClearActiveFamilyIf(ctx context.Context, userID, familyID string, now time.Time) (bool, error) {
	cleared := false
	err := r.updateUser(ctx, "store.ClearActiveFamilyIf", userID, func(u *identity.User) {
		if u.ActiveFamilyID != nil && *u.ActiveFamilyID == familyID {
			u.ActiveFamilyID = nil
			u.UpdatedAt = now
			cleared = true
		}
	})
	return cleared, err
}

func (r *memRepo) SetUserRole(ctx context.Context, userID string, role identity.Role, now time.Time) error {
	return r.updateUser(ctx, "store.SetUserRole", userID, func(u *identity.User) {
		u.Role = role
		u.UpdatedAt = now
	})
}

func (r *memRepo) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	return r.updateUser(ctx, "store.SetPasswordHash", userID, func(u *identity.User) {
		u.PasswordHash = hash
		u.UpdatedAt = now
	})
}

func (r *memRepo) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.updateUser(ctx, "store.MarkEmailVerified", userID, func(u *identity.User) {
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
		u.UpdatedAt = at
	})
}

func (r *memRepo) SoftDeleteUser(ctx context.Context, userID string, at time.Time) (bool, error) {
	deleted := false
	err := r.updateUser(ctx, "store.SoftDeleteUser", userID, func(u *identity.User) {
		if u.DeletedAt != nil {
			return
		}
		u.DeletedAt = &at
		u.ActiveFamilyID = nil
		u.UpdatedAt = at
		deleted = true
	})
	return deleted, err
}

// ---- families & memberships ----

func (r *memRepo) CreateFamily(ctx context.Context, f identity.Family) error {
	const op = "store.CreateFamily"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	if _, ok := r.st.families[f.ID]; ok {
		return identity.ConflictError{Op: op, Field: "id"}
	}
	for _, existing := range r.st.families {
		if existing.InviteCode == f.InviteCode {
			return identity.ConflictError{Op: op, Field: "invite_code"}
		}
	}
	if _, ok := r.st.users[f.CreatedBy]; !ok {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	r.st.families[f.ID] = f
	return nil
}

func (r *memRepo) GetFamily(ctx context.Context, id string) (identity.Family, error) {
	if err := ctx.Err(); err != nil {
		return identity.Family{}, err
	}
	f, ok := r.st.families[id]
	if !ok {
		return identity.Family{}, identity.NotFoundError{Op: "store.GetFamily", Resource: "family"}
	}
	return f, nil
}

func (r *memRepo) GetFamilyForUpdate(ctx context.Context, id string) (identity.Family, error) {
	return r.GetFamily(ctx, id)
}

func (r *memRepo) GetFamilyByInviteCode(ctx context.Context, code string) (identity.Family, error) {
	if err := ctx.Err(); err != nil {
		return identity.Family{}, err
	}
	for _, f := range r.st.families {
		if f.InviteCode == code {
			return f, nil
		}
	}
	return identity.Family{}, identity.NotFoundError{Op: "store.GetFamilyByInviteCode", Resource: "family"}
}

func (r *memRepo) CreateMembership(ctx context.Context, m identity.Membership) error {
	const op = "store.CreateMembership"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	k := memberKey{m.UserID, m.FamilyID}
	if _, ok := r.st.memberships[k]; ok {
		return identity.ConflictError{Op: op, Field: "membership"}
	}
	if _, ok := r.st.users[m.UserID]; !ok {
		return identity.NotFoundError{Op: op, Resource: "user"}
	}
	if _, ok := r.st.families[m.FamilyID]; !ok {
		return identity.NotFoundError{Op: op, Resource: "family"}
	}
	r.st.memberships[k] = m
	return nil
}

func (r *memRepo) GetMembership(ctx context.Context, userID, familyID string) (identity.Membership, error) {
	if err := ctx.Err(); err != nil {
		return identity.Membership{}, err
	}
	m, ok := r.st.memberships[memberKey{userID, familyID}]
	if !ok {
		return identity.Membership{}, identity.NotFoundError{Op: "store.GetMembership", Resource: "membership"}
	}
	return m, nil
}

func (r *memRepo) ListMembershipsByUser(ctx context.Context, userID string) ([]identity.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]identity.Membership, 0)
	for k, m := range r.st.memberships {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (r *memRepo) ListMembershipsByFamily(ctx context.Context, familyID string) ([]identity.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]identity.Membership, 0)
	for k, m := range r.st.memberships {
		if k.familyID == familyID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (r *memRepo) CountMembers(ctx context.Context, familyID string) (int, error) {
	ms, err := r.ListMembershipsByFamily(ctx, familyID)
	return len(ms), err
}

func (r *memRepo) DeleteMembership(ctx context.Context, userID, familyID string) error {
	const op = "store.DeleteMembership"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	k := memberKey{userID, familyID}
	if _, ok := r.st.memberships[k]; !ok {
		return identity.NotFoundError{Op: op, Resource: "membership"}
	}
	delete(r.st.memberships, k)
	return nil
}

func (r *memRepo) DeleteMembershipsByUser(ctx context.Context, userID string) (int, error) {
	if err := r.write(ctx, "store.DeleteMembershipsByUser"); err != nil {
		return 0, err
	}
	n := 0
	for k := range r.st.memberships {
		if k.userID == userID {
			delete(r.st.memberships, k)
			n++
		}
	}
	return n, nil
}

// ---- verification tokens ----

func (r *memRepo) CreateVerificationToken(ctx context.Context, t identity.VerificationToken) error {
	const op = "store.CreateVerificationToken"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	for _, existing := range r.st.tokens {
		if existing.TokenHash == t.TokenHash {
			return identity.ConflictError{Op: op, Field: "token_hash"}
		}
	}
	r.st.tokens[t.ID] = t
	return nil
}

func (r *memRepo) GetVerificationTokenByHash(ctx context.Context, hash string) (identity.VerificationToken, error) {
	if err := ctx.Err(); err != nil {
		return identity.VerificationToken{}, err
	}
	for _, t := range r.st.tokens {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return identity.VerificationToken{}, identity.NotFoundError{Op: "store.GetVerificationTokenByHash", Resource: "verification_token"}
}

func (r *memRepo) UseVerificationToken(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := r.write(ctx, "store.UseVerificationToken"); err != nil {
		return false, err
	}
	t, ok := r.st.tokens[id]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(at) {
		return false, nil
	}
	t.UsedAt = &at
	r.st.tokens[id] = t
	return true, nil
}

// ---- invites ----

func (r *memRepo) CreateInvite(ctx context.Context, inv invite.Invite) error {
	const op = "store.CreateInvite"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	for _, existing := range r.st.invites {
		if existing.Code == inv.Code {
			return identity.ConflictError{Op: op, Field: "invite_code"}
		}
		if inv.Status.Open() && existing.Status.Open() &&
			existing.FamilyID == inv.FamilyID && existing.InviteeEmail == inv.InviteeEmail {
			return identity.ConflictError{Op: op, Field: "open_invite"}
		}
	}
	r.st.invites[inv.ID] = inv
	return nil
}

func (r *memRepo) GetInviteByCode(ctx context.Context, code string) (invite.Invite, error) {
	if err := ctx.Err(); err != nil {
		return invite.Invite{}, err
	}
	for _, inv := range r.st.invites {
		if inv.Code == code {
			return inv, nil
		}
	}
	return invite.Invite{}, identity.NotFoundError{Op: "store.GetInviteByCode", Resource: "invite"}
}

func (r *memRepo) GetOpenInvite(ctx context.Context, familyID, email string) (invite.Invite, error) {
	if err := ctx.Err(); err != nil {
		return invite.Invite{}, err
	}
	for _, inv := range r.st.invites {
		if inv.FamilyID == familyID && inv.InviteeEmail == email && inv.Status.Open() {
			return inv, nil
		}
	}
	return invite.Invite{}, identity.NotFoundError{Op: "store.GetOpenInvite", Resource: "invite"}
}

func (r *memRepo) ListInvitesByFamily(ctx context.Context, familyID string) ([]invite.Invite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]invite.Invite, 0)
	for _, inv := range r.st.invites {
		if inv.FamilyID == familyID {
			out = append(out, inv)
		}
	}
	sortInvites(out)
	return out, nil
}

func (r *memRepo) ListInvitesByEmail(ctx context.Context, email string, statuses ...invite.Status) ([]invite.Invite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]invite.Invite, 0)
	for _, inv := range r.st.invites {
		if inv.InviteeEmail == email && statusIn(inv.Status, statuses) {
			out = append(out, inv)
		}
	}
	sortInvites(out)
	return out, nil
}

func (r *memRepo) TransitionInvite(ctx context.Context, id string, from, to invite.Status, acceptedAt *time.Time) (bool, error) {
	if err := r.write(ctx, "store.TransitionInvite"); err != nil {
		return false, err
	}
	inv, ok := r.st.invites[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	if acceptedAt != nil {
		at := *acceptedAt
		inv.AcceptedAt = &at
	}
	r.st.invites[id] = inv
	return true, nil
}

func (r *memRepo) UpgradeInvite(ctx context.Context, id string, key invite.KeyMaterial, expiresAt time.Time) (bool, error) {
	if err := r.write(ctx, "store.UpgradeInvite"); err != nil {
		return false, err
	}
	inv, ok := r.st.invites[id]
	if !ok || inv.Status != invite.StatusPendingRegistration {
		return false, nil
	}
	k := key
	inv.Key = &k
	inv.Status = invite.StatusPending
	inv.ExpiresAt = expiresAt
	r.st.invites[id] = inv
	return true, nil
}

func (r *memRepo) RevokeOpenInvites(ctx context.Context, email string, familyID *string) (int, error) {
	if err := r.write(ctx, "store.RevokeOpenInvites"); err != nil {
		return 0, err
	}
	n := 0
	for id, inv := range r.st.invites {
		if inv.InviteeEmail != email || !inv.Status.Open() {
			continue
		}
		if familyID != nil && inv.FamilyID != *familyID {
			continue
		}
		inv.Status = invite.StatusRevoked
		r.st.invites[id] = inv
		n++
	}
	return n, nil
}

func (r *memRepo) CreateFamilyInvite(ctx context.Context, fi invite.FamilyInvite) error {
	const op = "store.CreateFamilyInvite"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	for _, existing := range r.st.familyInvites {
		if existing.CodeHash == fi.CodeHash {
			return identity.ConflictError{Op: op, Field: "code_hash"}
		}
	}
	fi.Code = ""
	r.st.familyInvites[fi.ID] = fi
	return nil
}

func (r *memRepo) GetFamilyInviteByHash(ctx context.Context, codeHash string) (invite.FamilyInvite, error) {
	if err := ctx.Err(); err != nil {
		return invite.FamilyInvite{}, err
	}
	for _, fi := range r.st.familyInvites {
		if fi.CodeHash == codeHash {
			return fi, nil
		}
	}
	return invite.FamilyInvite{}, identity.NotFoundError{Op: "store.GetFamilyInviteByHash", Resource: "family_invite"}
}

func (r *memRepo) GetFamilyInviteByHashForUpdate(ctx context.Context, codeHash string) (invite.FamilyInvite, error) {
	return r.GetFamilyInviteByHash(ctx, codeHash)
}

func (r *memRepo) ListFamilyInvites(ctx context.Context, familyID string) ([]invite.FamilyInvite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]invite.FamilyInvite, 0)
	for _, fi := range r.st.familyInvites {
		if fi.FamilyID == familyID {
			out = append(out, fi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memRepo) RedeemFamilyInvite(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	if err := r.write(ctx, "store.RedeemFamilyInvite"); err != nil {
		return false, err
	}
	fi, ok := r.st.familyInvites[id]
	if !ok || fi.RedeemedAt != nil || !fi.ExpiresAt.After(at) {
		return false, nil
	}
	uid := userID
	fi.RedeemedAt = &at
	fi.RedeemedByUserID = &uid
	r.st.familyInvites[id] = fi
	return true, nil
}

// ---- chat ----

func (r *memRepo) CreateChannel(ctx context.Context, c identity.Channel) error {
	const op = "store.CreateChannel"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	if _, ok := r.st.families[c.FamilyID]; !ok {
		return identity.NotFoundError{Op: op, Resource: "family"}
	}
	r.st.channels[c.ID] = c
	return nil
}

func (r *memRepo) GetChannel(ctx context.Context, id string) (identity.Channel, error) {
	if err := ctx.Err(); err != nil {
		return identity.Channel{}, err
	}
	c, ok := r.st.channels[id]
	if !ok {
		return identity.Channel{}, identity.NotFoundError{Op: "store.GetChannel", Resource: "channel"}
	}
	return c, nil
}

func (r *memRepo) ListChannels(ctx context.Context, familyID string) ([]identity.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]identity.Channel, 0)
	for _, c := range r.st.channels {
		if c.FamilyID == familyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CreateMessage(ctx context.Context, m identity.Message) error {
	const op = "store.CreateMessage"
	if err := r.write(ctx, op); err != nil {
		return err
	}
	if _, ok := r.st.channels[m.ChannelID]; !ok {
		return identity.NotFoundError{Op: op, Resource: "channel"}
	}
	r.st.messages[m.ID] = m
	return nil
}

func (r *memRepo) ListMessages(ctx context.Context, channelID string, cur MessageCursor, limit int) ([]identity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]identity.Message, 0)
	for _, m := range r.st.messages {
		if m.ChannelID != channelID {
			continue
		}
		if !cur.Before.IsZero() && !cur.Includes(m) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- helpers ----

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func statusIn(s invite.Status, set []invite.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func sortMemberships(ms []identity.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].FamilyID+ms[i].UserID < ms[j].FamilyID+ms[j].UserID
		}
		return ms[i].JoinedAt.Before(ms[j].JoinedAt)
	})
}

func sortInvites(in []invite.Invite) {
	sort.Slice(in, func(i, j int) bool { return in[i].ID > in[j].ID })
}

var _ Store = (*MemoryStore)(nil)
var _ Repo = (*memRepo)(nil)
