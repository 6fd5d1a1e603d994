package stage

import "testing"

func TestGuessRole(t *testing.T) {
	cases := map[string]Role{
		"routes/users.js":          RoleAPI,
		"src/controllers/order.py": RoleAPI,
		"models/user.js":           RoleModel,
		"db/schema.rb":             RoleModel,
		"services/billing.go":      RoleService,
		"config/database.yml":      RoleConfig,
		".env.production":          RoleConfig,
		"docs/setup.md":            RoleDocs,
		"README.md":                RoleDocs,
		"api/users_test.go":        RoleTest,
		"src/app.spec.ts":          RoleTest,
		"package.json":             RoleBuild,
		"go.mod":                   RoleBuild,
		"src/util.go":              RoleService,
		"logo.svg":                 RoleOther,
	}
	for path, want := range cases {
		if got := GuessRole(path); got != want {
			t.Errorf("GuessRole(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestParseRoleClosedVocabulary(t *testing.T) {
	if got := ParseRole(" API "); got != RoleAPI {
		t.Errorf("ParseRole(API) = %s", got)
	}
	if got := ParseRole("frontend"); got != RoleOther {
		t.Errorf("unknown role must degrade to other, got %s", got)
	}
}

func TestIsStructuralFile(t *testing.T) {
	for _, p := range []string{"package.json", "backend/go.mod", "api/requirements.txt", "Gemfile"} {
		if !IsStructuralFile(p) {
			t.Errorf("IsStructuralFile(%q) = false", p)
		}
	}
	for _, p := range []string{"src/app.js", "docs/package.json.md"} {
		if IsStructuralFile(p) {
			t.Errorf("IsStructuralFile(%q) = true", p)
		}
	}
}

func TestIsCodeFile(t *testing.T) {
	if !IsCodeFile("a/b/c.go") || !IsCodeFile("x.TS") {
		t.Error("expected code files detected")
	}
	if IsCodeFile("a.png") || IsCodeFile("Makefile") {
		t.Error("non-code files misdetected")
	}
}
