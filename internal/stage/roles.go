package stage

import (
	"path"
	"strings"
)

// Role is the closed classification vocabulary. The classifier model must
// answer with one of these; anything else degrades to RoleOther.
type Role string

const (
	RoleAPI     Role = "api"     // route/handler/controller files
	RoleModel   Role = "model"   // schema, entity, migration files
	RoleService Role = "service" // business logic, workers, integrations
	RoleConfig  Role = "config"  // configuration and infrastructure
	RoleDocs    Role = "docs"    // documentation
	RoleTest    Role = "test"    // test files
	RoleBuild   Role = "build"   // build and dependency declarations
	RoleOther   Role = "other"
)

// AllRoles lists the vocabulary in prompt order.
var AllRoles = []Role{RoleAPI, RoleModel, RoleService, RoleConfig, RoleDocs, RoleTest, RoleBuild, RoleOther}

// ParseRole maps a model answer to the closed vocabulary.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return known
		}
	}
	return RoleOther
}

// codeExtensions marks files worth scanning even without a known role.
var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".cs": true,
	".php": true, ".rs": true, ".c": true, ".cc": true, ".cpp": true,
	".h": true, ".swift": true, ".scala": true, ".sql": true, ".sh": true,
}

// IsCodeFile reports whether path has a code-like extension.
func IsCodeFile(p string) bool {
	return codeExtensions[strings.ToLower(path.Ext(p))]
}

// GuessRole infers a role from the path alone. Pure and side-effect free;
// used when a changed file has no stored manifest role yet. The model's
// classification, when available, always wins over this guess.
func GuessRole(p string) Role {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	ext := path.Ext(base)

	switch {
	case isBuildFile(base):
		return RoleBuild
	case strings.Contains(base, "_test.") || strings.HasSuffix(base, ".test.js") ||
		strings.HasSuffix(base, ".test.ts") || strings.HasSuffix(base, ".spec.js") ||
		strings.HasSuffix(base, ".spec.ts") || hasSegment(lower, "test", "tests", "__tests__", "spec"):
		return RoleTest
	case ext == ".md" || ext == ".rst" || ext == ".txt" || hasSegment(lower, "docs", "doc"):
		return RoleDocs
	case ext == ".yaml" || ext == ".yml" || ext == ".toml" || ext == ".ini" ||
		ext == ".env" || strings.HasPrefix(base, ".env") || hasSegment(lower, "config", "conf"):
		return RoleConfig
	case hasSegment(lower, "routes", "controllers", "handlers", "api", "endpoints") ||
		strings.Contains(base, "route") || strings.Contains(base, "controller") || strings.Contains(base, "handler"):
		return RoleAPI
	case hasSegment(lower, "models", "schema", "entities", "migrations") ||
		strings.Contains(base, "model") || strings.Contains(base, "schema") || strings.Contains(base, "entity"):
		return RoleModel
	case hasSegment(lower, "services", "workers", "jobs", "internal", "lib", "pkg") ||
		strings.Contains(base, "service"):
		return RoleService
	case IsCodeFile(p):
		return RoleService
	default:
		return RoleOther
	}
}

// hasSegment reports whether any path segment equals one of names.
func hasSegment(p string, names ...string) bool {
	for _, seg := range strings.Split(p, "/") {
		for _, n := range names {
			if seg == n {
				return true
			}
		}
	}
	return false
}

// buildFiles is the fixed set of dependency-declaration filenames whose
// change invalidates cross-cutting assumptions and forces a full rebuild.
var buildFiles = map[string]bool{
	"package.json":     true,
	"package-lock.json": true,
	"go.mod":           true,
	"go.sum":           true,
	"requirements.txt": true,
	"pyproject.toml":   true,
	"cargo.toml":       true,
	"pom.xml":          true,
	"build.gradle":     true,
	"gemfile":          true,
	"composer.json":    true,
}

func isBuildFile(base string) bool {
	return buildFiles[strings.ToLower(base)]
}

// IsStructuralFile reports whether p names a manifest/dependency
// declaration. Checked against the base name only.
func IsStructuralFile(p string) bool {
	return isBuildFile(strings.ToLower(path.Base(p)))
}
