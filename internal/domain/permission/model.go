// Package permission defines the grant model consulted by the permission
// oracle.
package permission

import "time"

// Level is a permission level. Levels are ordered: read < write < admin.
type Level string

const (
	LevelRead  Level = "read"
	LevelWrite Level = "write"
	LevelAdmin Level = "admin"
)

var levelRank = map[Level]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// AtLeast reports whether l satisfies the required level.
func (l Level) AtLeast(required Level) bool {
	return levelRank[l] >= levelRank[required]
}

// Grant allows an identity to act on a customer or project scope. A nil
// CustomerID or ProjectID is a wildcard over that dimension.
type Grant struct {
	ID         string
	UserID     string
	CustomerID *string
	ProjectID  *string
	Level      Level
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Matches reports whether the grant covers the given customer/project scope.
// Absent projectID (nil) matches grants with or without a project dimension.
func (g Grant) Matches(customerID string, projectID *string) bool {
	if g.CustomerID != nil && *g.CustomerID != customerID {
		return false
	}
	if g.ProjectID != nil {
		if projectID == nil || *g.ProjectID != *projectID {
			return false
		}
	}
	return true
}
