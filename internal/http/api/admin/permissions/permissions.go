package permissions

import (
	"encoding/json"
	"sort"
	"strings"
)

// Definition describes an admin permission.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
}

// Key builds a permission key from method and path.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// NormalizePermissions trims, de-duplicates, and sorts permissions.
func NormalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, perm := range perms {
		trimmed := strings.TrimSpace(perm)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	return normalized
}

// ParsePermissions parses and normalizes permissions from JSON.
func ParsePermissions(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return []string{}
	}
	return NormalizePermissions(perms)
}

// HasPermission checks whether the key exists in the permission list.
func HasPermission(perms []string, key string) bool {
	if key == "" {
		return false
	}
	for _, perm := range perms {
		if perm == key {
			return true
		}
	}
	return false
}

// Known reports whether key names a defined permission.
func Known(key string) bool {
	_, ok := definitionMap[key]
	return ok
}

// Definitions returns a copy of all permission definitions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// newDefinition builds a Definition with a normalized key.
func newDefinition(method, path, label, module string) Definition {
	upperMethod := strings.ToUpper(method)
	return Definition{
		Key:    Key(upperMethod, path),
		Method: upperMethod,
		Path:   path,
		Label:  label,
		Module: module,
	}
}

// definitions is the ordered list of permission definitions.
var definitions = []Definition{
	newDefinition("GET", "/v0/admin/fallback/config", "View Fallback Config", "Fallback"),
	newDefinition("PUT", "/v0/admin/fallback/config", "Update Fallback Config", "Fallback"),
	newDefinition("POST", "/v0/admin/fallback/models", "Add Fallback Model", "Fallback"),
	newDefinition("PUT", "/v0/admin/fallback/models/:id", "Update Fallback Model", "Fallback"),
	newDefinition("DELETE", "/v0/admin/fallback/models/:id", "Remove Fallback Model", "Fallback"),
	newDefinition("POST", "/v0/admin/fallback/models/test", "Test Fallback Model", "Fallback"),

	newDefinition("POST", "/v0/admin/api-keys/validate", "Validate API Key", "API Keys"),
	newDefinition("POST", "/v0/admin/api-keys/test", "Test API Key", "API Keys"),

	newDefinition("GET", "/v0/admin/maintenance", "View Maintenance", "Maintenance"),
	newDefinition("PUT", "/v0/admin/maintenance", "Update Maintenance", "Maintenance"),

	newDefinition("GET", "/v0/admin/usage/stats", "View Usage Stats", "Usage"),
	newDefinition("GET", "/v0/admin/usage/logs", "View Dispatch Logs", "Usage"),
	newDefinition("DELETE", "/v0/admin/usage/logs", "Clear Dispatch Logs", "Usage"),

	newDefinition("GET", "/v0/admin/admission/:caller", "View Caller Admission", "Admission"),

	newDefinition("GET", "/v0/admin/permissions", "List Permission Definitions", "Administrators"),
}

// definitionMap provides fast lookup for permission definitions.
var definitionMap = func() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}()
