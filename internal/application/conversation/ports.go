// Package conversation is the orchestration engine: it resolves what a user
// typed or tapped into the faculty → specialty → cycle → course → folder → file
// hierarchy and delivers the matching study material.
package conversation

import (
	"context"
	"time"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CAPABILITIES
// Implementations live in infrastructure/.
// ══════════════════════════════════════════════════════════════════════════════

// Cache memoizes storage listings by prefix.
// Get never fails: a miss, an expired entry and a backend error all read as absent.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, value []string)
}

// Intent is what the NLU engine made of a piece of text.
type Intent struct {
	// Text is the fulfillment reply, may contain URLs.
	Text string

	// Payload carries structured routing data ("comando", "peticion").
	Payload map[string]string

	// Parameters are the extracted entities keyed by name.
	Parameters map[string]string
}

// NLPEngine resolves free text into an Intent.
type NLPEngine interface {
	ProcessText(ctx context.Context, sessionID, text string) (Intent, error)
}

// ContentStore lists and addresses objects in the material bucket.
type ContentStore interface {
	// ListObjectsUnder returns every key below prefix, recursively.
	ListObjectsUnder(ctx context.Context, prefix string) ([]string, error)

	// ListObjectsDirectlyUnder returns the immediate child prefixes of prefix.
	ListObjectsDirectlyUnder(ctx context.Context, prefix string) ([]string, error)

	// GetPublicURL returns a URL the channel can fetch the object from.
	GetPublicURL(ctx context.Context, key string) (string, error)
}

// PersistenceStore is the relational store for users, the catalog and the audit trail.
// Lookups that find nothing return a nil pointer and a nil error.
type PersistenceStore interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Users
	// ─────────────────────────────────────────────────────────────────────────

	GetUserByID(ctx context.Context, id int64) (*user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
	UpdateUser(ctx context.Context, u *user.User) error

	// ─────────────────────────────────────────────────────────────────────────
	// Catalog
	// ─────────────────────────────────────────────────────────────────────────

	GetFacultades(ctx context.Context) ([]catalog.Facultad, error)
	GetEspecialidadByID(ctx context.Context, id string) (*catalog.Especialidad, error)
	GetEspecialidadesByFacultad(ctx context.Context, facultadID string) ([]catalog.Especialidad, error)
	GetCiclos(ctx context.Context) ([]catalog.Ciclo, error)
	GetCourseByID(ctx context.Context, codigo string) (*catalog.Course, error)

	// GetCoursesByUser returns the courses of the user's specialty and cycle.
	GetCoursesByUser(ctx context.Context, u *user.User) ([]catalog.Course, error)

	// GetProbableCoursesByUser returns the specialty's courses, closest cycle first.
	GetProbableCoursesByUser(ctx context.Context, u *user.User) ([]catalog.Course, error)

	GetFileByKey(ctx context.Context, key string) (*catalog.Material, error)
	UpdateFile(ctx context.Context, m *catalog.Material) error

	// ─────────────────────────────────────────────────────────────────────────
	// Audit
	// ─────────────────────────────────────────────────────────────────────────

	LogUserError(ctx context.Context, userID int64, module string, err error) error
	LogInternalError(ctx context.Context, module string, err error) error
	LogTransaction(ctx context.Context, userID int64, key string, success bool) error
}

// Observer receives delivery and cascade events. Metrics hang off it.
type Observer interface {
	FileDelivered(success bool)
	CascadeResolved(stage string, matches int)
	NLPFallback(failed bool)
}

type nopObserver struct{}

func (nopObserver) FileDelivered(bool)          {}
func (nopObserver) CascadeResolved(string, int) {}
func (nopObserver) NLPFallback(bool)            {}

// Clock returns the current time.
type Clock func() time.Time
