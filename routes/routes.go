// Package routes classifies request paths for the access gate.
package routes

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Classification is the access category assigned to a path.
type Classification int

const (
	// Unclassified paths are listed in neither table. The gate treats them
	// exactly like Protected.
	Unclassified Classification = iota
	Public
	Protected
)

func (c Classification) String() string {
	switch c {
	case Public:
		return "public"
	case Protected:
		return "protected"
	default:
		return "unclassified"
	}
}

// RequiresSession reports whether the gate must validate a session for the
// classification.
func (c Classification) RequiresSession() bool {
	return c != Public
}

var (
	// PublicRoutes never require a session.
	PublicRoutes = []string{
		"/login",
		"/register",
		"/forgot-password",
		"/pending-approval",
		"/unauthorized",
	}

	// ProtectedRoutes require a valid session.
	ProtectedRoutes = []string{
		"/dashboard",
		"/packages",
		"/pallets",
		"/receiving",
		"/feedback",
		"/issues",
		"/admin",
		"/settings",
	}

	// IgnoredPrefixes are never classified. API routes authorize themselves.
	IgnoredPrefixes = []string{
		"/api",
		"/_next",
		"/static",
		"/assets",
		"/favicon.ico",
	}
)

// Table holds the route lists consulted by Classify.
type Table struct {
	Public          []string `yaml:"public"`
	Protected       []string `yaml:"protected"`
	IgnoredPrefixes []string `yaml:"ignored"`
}

// DefaultTable returns a copy of the built-in route lists.
func DefaultTable() Table {
	return Table{
		Public:          append([]string(nil), PublicRoutes...),
		Protected:       append([]string(nil), ProtectedRoutes...),
		IgnoredPrefixes: append([]string(nil), IgnoredPrefixes...),
	}
}

// LoadTable reads route lists from a YAML file. Lists absent from the file
// keep their defaults. An empty path returns the defaults.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("routes: read %s: %w", path, err)
	}

	var file Table
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Table{}, fmt.Errorf("routes: parse %s: %w", path, err)
	}

	if file.Public != nil {
		table.Public = file.Public
	}
	if file.Protected != nil {
		table.Protected = file.Protected
	}
	if file.IgnoredPrefixes != nil {
		table.IgnoredPrefixes = file.IgnoredPrefixes
	}

	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// Validate rejects malformed entries and routes listed as both public and
// protected.
func (t Table) Validate() error {
	public := make(map[string]struct{}, len(t.Public))
	for _, route := range t.Public {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("routes: public route %q must start with /", route)
		}
		public[route] = struct{}{}
	}
	for _, route := range t.Protected {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("routes: protected route %q must start with /", route)
		}
		if _, ok := public[route]; ok {
			return fmt.Errorf("routes: %q is listed as both public and protected", route)
		}
	}
	if len(t.Public) == 0 && len(t.Protected) == 0 {
		return errors.New("routes: table is empty")
	}
	return nil
}

// Ignored reports whether the path is excluded from classification:
// framework internals, static assets and anything that looks like a file.
func (t Table) Ignored(path string) bool {
	return matchesAny(path, t.IgnoredPrefixes) || strings.Contains(path, ".")
}

// Classify assigns the path to exactly one category. Public wins over
// protected when both match.
func (t Table) Classify(path string) Classification {
	if matchesAny(path, t.Public) {
		return Public
	}
	if matchesAny(path, t.Protected) {
		return Protected
	}
	return Unclassified
}

// Classify uses the default table.
func Classify(path string) Classification {
	return DefaultTable().Classify(path)
}

// Matches reports whether path equals route or lies beneath it.
func Matches(path, route string) bool {
	return path == route || strings.HasPrefix(path, route+"/")
}

func matchesAny(path string, routes []string) bool {
	for _, route := range routes {
		if Matches(path, route) {
			return true
		}
	}
	return false
}
