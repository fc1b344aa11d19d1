package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"gorm.io/gorm"
)

type rbacFixture struct {
	db    *gorm.DB
	roles RoleRepository
	perms PermissionRepository
	users UserRoleRepository
}

func newRBACFixture(t *testing.T) rbacFixture {
	t.Helper()
	db := newTestDB(t)
	return rbacFixture{
		db:    db,
		roles: NewRoleRepository(db),
		perms: NewPermissionRepository(db),
		users: NewUserRoleRepository(db),
	}
}

func (f rbacFixture) grant(t *testing.T, role, perm string) (*domain.Role, *domain.Permission) {
	t.Helper()
	ctx := context.Background()
	r, err := f.roles.GetRoleByName(ctx, role)
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if r == nil {
		if r, err = f.roles.CreateRole(ctx, role); err != nil {
			t.Fatalf("create role %s: %v", role, err)
		}
	}
	p, err := f.perms.GetPermissionByName(ctx, perm)
	if err != nil {
		t.Fatalf("get permission: %v", err)
	}
	if p == nil {
		if p, err = f.perms.CreatePermission(ctx, perm); err != nil {
			t.Fatalf("create permission %s: %v", perm, err)
		}
	}
	ok, err := f.roles.AssignPermissionToRole(ctx, domain.RoleByID(r.ID), domain.PermissionByID(p.ID))
	if err != nil || !ok {
		t.Fatalf("assign %s to %s: ok=%v err=%v", perm, role, ok, err)
	}
	return r, p
}

func roleNames(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "idem@example.com")
	f.grant(t, "MODERATOR", "BAN_USER")

	for i := 0; i < 2; i++ {
		ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByName("moderator"), domain.GlobalScope())
		if err != nil || !ok {
			t.Fatalf("assign #%d: ok=%v err=%v", i, ok, err)
		}
	}
	roles, err := f.users.ListRoles(ctx, u.ID, domain.GlobalScope())
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "MODERATOR" {
		t.Fatalf("expected exactly one MODERATOR, got %v", roleNames(roles))
	}
	var rows int64
	f.db.Model(&domain.UserRole{}).Where("user_id = ?", u.ID).Count(&rows)
	if rows != 1 {
		t.Fatalf("expected one membership row, got %d", rows)
	}
}

func TestConcurrentAssignRoleCreatesOneRow(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "race@example.com")
	role, _ := f.grant(t, "VIEWER", "WATCH_STREAM")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByID(role.ID), domain.StreamerScope(77))
			if err == nil && !ok {
				err = errors.New("assign returned false")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent assign: %v", err)
		}
	}
	var rows int64
	f.db.Model(&domain.UserRole{}).Where("user_id = ? AND context_id = ?", u.ID, 77).Count(&rows)
	if rows != 1 {
		t.Fatalf("expected one membership row, got %d", rows)
	}
}

func TestScopedAndGlobalRolesAreNotUnioned(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "scope@example.com")
	f.grant(t, "ADMIN", "MANAGE_PLATFORM")
	f.grant(t, "CHANNEL_MOD", "DELETE_MESSAGE")
	streamer := domain.StreamerScope(42)

	if ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByName("ADMIN"), domain.GlobalScope()); err != nil || !ok {
		t.Fatalf("assign global: ok=%v err=%v", ok, err)
	}
	if ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByName("CHANNEL_MOD"), streamer); err != nil || !ok {
		t.Fatalf("assign scoped: ok=%v err=%v", ok, err)
	}

	global, err := f.users.ListRoles(ctx, u.ID, domain.GlobalScope())
	if err != nil {
		t.Fatalf("list global: %v", err)
	}
	scoped, err := f.users.ListRoles(ctx, u.ID, streamer)
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if got := roleNames(global); len(got) != 1 || got[0] != "ADMIN" {
		t.Fatalf("global roles = %v, want [ADMIN]", got)
	}
	if got := roleNames(scoped); len(got) != 1 || got[0] != "CHANNEL_MOD" {
		t.Fatalf("scoped roles = %v, want [CHANNEL_MOD]", got)
	}

	globalPerms, err := f.users.ListPermissions(ctx, u.ID, domain.GlobalScope())
	if err != nil {
		t.Fatalf("list global perms: %v", err)
	}
	if len(globalPerms) != 1 || globalPerms[0].Name != "MANAGE_PLATFORM" {
		t.Fatalf("unexpected global permissions %+v", globalPerms)
	}
	other, err := f.users.ListRoles(ctx, u.ID, domain.StreamerScope(43))
	if err != nil {
		t.Fatalf("list other scope: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no roles in another streamer scope, got %v", roleNames(other))
	}
}

func TestViewerWatchStreamScenario(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "viewer@example.com")
	f.grant(t, "VIEWER", "WATCH_STREAM")
	s := domain.StreamerScope(9)

	if ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByName("VIEWER"), s); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}
	scoped, err := f.users.HasPermission(ctx, u.ID, domain.PermissionByName("WATCH_STREAM"), s)
	if err != nil || !scoped {
		t.Fatalf("expected scoped permission, got %v err=%v", scoped, err)
	}
	global, err := f.users.HasPermission(ctx, u.ID, domain.PermissionByName("WATCH_STREAM"), domain.GlobalScope())
	if err != nil || global {
		t.Fatalf("expected no global permission, got %v err=%v", global, err)
	}
}

func TestPermissionTransitivityAndRevoke(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "trans@example.com")
	role, perm := f.grant(t, "EDITOR", "EDIT_TITLE")

	cases := []struct {
		name  string
		scope domain.Scope
	}{
		{name: "global", scope: domain.GlobalScope()},
		{name: "scoped", scope: domain.StreamerScope(5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByID(role.ID), tc.scope); err != nil || !ok {
				t.Fatalf("assign: ok=%v err=%v", ok, err)
			}
			has, err := f.users.HasPermission(ctx, u.ID, domain.PermissionByID(perm.ID), tc.scope)
			if err != nil || !has {
				t.Fatalf("expected permission by id, got %v err=%v", has, err)
			}
			revoked, err := f.users.RevokeRole(ctx, u.ID, domain.RoleByName("editor"), tc.scope)
			if err != nil || !revoked {
				t.Fatalf("revoke: ok=%v err=%v", revoked, err)
			}
			has, err = f.users.HasPermission(ctx, u.ID, domain.PermissionByName("EDIT_TITLE"), tc.scope)
			if err != nil || has {
				t.Fatalf("expected permission gone after revoke, got %v err=%v", has, err)
			}
			again, err := f.users.RevokeRole(ctx, u.ID, domain.RoleByID(role.ID), tc.scope)
			if err != nil || again {
				t.Fatalf("second revoke should remove nothing: ok=%v err=%v", again, err)
			}
		})
	}
}

func TestAssignUnknownRoleReturnsFalse(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	u := seedUser(t, f.db, "unknown@example.com")

	ok, err := f.users.AssignRole(ctx, u.ID, domain.RoleByName("GHOST"), domain.GlobalScope())
	if err != nil || ok {
		t.Fatalf("expected false without error, got ok=%v err=%v", ok, err)
	}
	ok, err = f.users.AssignRole(ctx, u.ID, domain.RoleByID(9999), domain.StreamerScope(1))
	if err != nil || ok {
		t.Fatalf("expected false for unknown id, got ok=%v err=%v", ok, err)
	}
}

func TestInvalidRefIsDistinctFromNotFound(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()

	_, err := f.users.AssignRole(ctx, 1, domain.RoleRef{}, domain.GlobalScope())
	if !errors.Is(err, ErrInvalidArgument) || !errors.Is(err, domain.ErrInvalidRef) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = f.users.HasPermission(ctx, 1, domain.PermissionRef{}, domain.GlobalScope())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for permission ref, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("invalid argument must not be retryable")
	}
}

func TestHasPermissionUnknownUserOrPermission(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	f.grant(t, "VIEWER", "WATCH_STREAM")

	for _, ref := range []domain.PermissionRef{domain.PermissionByName("WATCH_STREAM"), domain.PermissionByName("NOPE"), domain.PermissionByID(404)} {
		has, err := f.users.HasPermission(ctx, 12345, ref, domain.GlobalScope())
		if err != nil || has {
			t.Fatalf("expected false for %v, got %v err=%v", ref, has, err)
		}
	}
}

func TestAssignRoleToUnknownUserIsConstraintViolation(t *testing.T) {
	f := newRBACFixture(t)
	ctx := context.Background()
	f.grant(t, "VIEWER", "WATCH_STREAM")

	cases := []struct {
		name  string
		scope domain.Scope
	}{
		{name: "global", scope: domain.GlobalScope()},
		{name: "scoped", scope: domain.StreamerScope(8)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := f.users.AssignRole(ctx, 424242, domain.RoleByName("VIEWER"), tc.scope)
			if !errors.Is(err, ErrConstraintViolation) || ok {
				t.Fatalf("expected constraint violation, got ok=%v err=%v", ok, err)
			}
			if IsRetryable(err) {
				t.Fatal("constraint violation must not be retryable")
			}
			var rows int64
			f.db.Model(&domain.UserRole{}).Where("user_id = ?", 424242).Count(&rows)
			if rows != 0 {
				t.Fatalf("expected no membership rows, got %d", rows)
			}
		})
	}
}
