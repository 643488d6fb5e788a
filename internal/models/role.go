package models

import "strings"

// RoleInfo is a role assignment as shown to clients. Color is nil when the
// role has no configured or default color.
type RoleInfo struct {
	Role  string
	Color *string
}

var defaultRoleColors = []struct {
	role  string
	color string
}{
	{"Admin", "#eab308"},
	{"Mod", "#10b981"},
	{"Owner", "#3b82f6"},
}

// DefaultRoleColor returns the built-in color for well-known role names,
// matched case-insensitively. Unknown roles have no default.
func DefaultRoleColor(role string) *string {
	for _, entry := range defaultRoleColors {
		if strings.EqualFold(entry.role, role) {
			color := entry.color
			return &color
		}
	}
	return nil
}
