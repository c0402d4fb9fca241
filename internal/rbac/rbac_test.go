package rbac

import "testing"

func TestPredicates(t *testing.T) {
	tests := []struct {
		role       Role
		analytics  bool
		createTask bool
		seesAll    bool
	}{
		{RoleAdmin, true, true, true},
		{RoleDirector, true, true, true},
		{RoleManager, false, true, false},
		{RoleDeveloper, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := CanViewAnalytics(tt.role); got != tt.analytics {
				t.Errorf("CanViewAnalytics = %v, want %v", got, tt.analytics)
			}
			if got := CanCreateTasks(tt.role); got != tt.createTask {
				t.Errorf("CanCreateTasks = %v, want %v", got, tt.createTask)
			}
			if got := SeesAll(tt.role); got != tt.seesAll {
				t.Errorf("SeesAll = %v, want %v", got, tt.seesAll)
			}
		})
	}
}

func TestQuota(t *testing.T) {
	if max, limited := Quota(RoleDirector); !limited || max != 1 {
		t.Fatalf("director quota = %d,%v", max, limited)
	}
	if max, limited := Quota(RoleDeveloper); !limited || max != 2 {
		t.Fatalf("developer quota = %d,%v", max, limited)
	}
	if _, limited := Quota(RoleManager); limited {
		t.Fatal("manager must be unlimited")
	}
	if _, limited := Quota(RoleAdmin); limited {
		t.Fatal("admin must be unlimited")
	}
}

func TestParseAndNormalize(t *testing.T) {
	if role, ok := Parse(" Administrator "); !ok || role != RoleAdmin {
		t.Fatalf("Parse(Administrator) = %q,%v", role, ok)
	}
	if _, ok := Parse("viewer"); ok {
		t.Fatal("viewer must not parse")
	}
	if Normalize("viewer") != RoleDeveloper {
		t.Fatal("unknown roles must normalize to developer")
	}
	if Normalize("MANAGER") != RoleManager {
		t.Fatal("Normalize should be case-insensitive")
	}
}

func TestRolesOrderedByPrivilege(t *testing.T) {
	roles := Roles()
	if len(roles) != 4 || roles[0] != RoleAdmin || roles[3] != RoleDeveloper {
		t.Fatalf("Roles() = %v", roles)
	}
	for _, role := range roles {
		if Label(role) == string(role) {
			t.Errorf("missing label for %q", role)
		}
	}
}
