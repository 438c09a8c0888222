package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations and tracks them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the versions it applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return done, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		done = append(done, mig.Version)
	}
	return done, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var last int
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_usuarios", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_audit", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// 001: academic catalog and file records
// ─────────────────────────────────────────────────────────────────────────────

const migration001Up = `
CREATE TABLE IF NOT EXISTS facultades (
    id VARCHAR(20) PRIMARY KEY,
    nombre VARCHAR(150) NOT NULL
);

CREATE TABLE IF NOT EXISTS especialidades (
    id VARCHAR(20) PRIMARY KEY,
    nombre VARCHAR(150) NOT NULL,
    facultad VARCHAR(20) NOT NULL REFERENCES facultades(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_especialidades_facultad ON especialidades(facultad);

CREATE TABLE IF NOT EXISTS ciclos (
    numero SMALLINT PRIMARY KEY,
    nombre VARCHAR(30) NOT NULL UNIQUE,
    CONSTRAINT valid_numero CHECK (numero > 0)
);

CREATE TABLE IF NOT EXISTS cursos (
    codigo VARCHAR(20) PRIMARY KEY,
    nombre VARCHAR(150) NOT NULL,
    creditos SMALLINT NOT NULL DEFAULT 0,
    sistema_evaluacion VARCHAR(5) NOT NULL DEFAULT ''
);

-- A course belongs to a specialty at a given cycle.
CREATE TABLE IF NOT EXISTS curso_especialidad (
    curso VARCHAR(20) NOT NULL REFERENCES cursos(codigo) ON DELETE CASCADE,
    especialidad VARCHAR(20) NOT NULL REFERENCES especialidades(id) ON DELETE CASCADE,
    ciclo SMALLINT NOT NULL REFERENCES ciclos(numero),
    PRIMARY KEY (curso, especialidad)
);

CREATE INDEX IF NOT EXISTS idx_curso_especialidad_lookup ON curso_especialidad(especialidad, ciclo);

CREATE TABLE IF NOT EXISTS archivos (
    key TEXT PRIMARY KEY,
    short_name VARCHAR(200) NOT NULL,
    tipo VARCHAR(10) NOT NULL DEFAULT 'file',
    pagina INTEGER NOT NULL DEFAULT 0,
    reuse_id TEXT,
    envios INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_tipo CHECK (tipo IN ('image', 'video', 'audio', 'file')),
    CONSTRAINT valid_envios CHECK (envios >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS archivos;
DROP TABLE IF EXISTS curso_especialidad;
DROP TABLE IF EXISTS cursos;
DROP TABLE IF EXISTS ciclos;
DROP TABLE IF EXISTS especialidades;
DROP TABLE IF EXISTS facultades;
`

// ─────────────────────────────────────────────────────────────────────────────
// 002: users with their selection and request counters
// ─────────────────────────────────────────────────────────────────────────────

const migration002Up = `
CREATE TABLE IF NOT EXISTS usuarios (
    id BIGINT PRIMARY KEY,
    valido BOOLEAN NOT NULL DEFAULT TRUE,
    especialidad VARCHAR(20) NOT NULL DEFAULT '',
    ciclo SMALLINT NOT NULL DEFAULT 0,
    curso VARCHAR(20) NOT NULL DEFAULT '',
    carpeta VARCHAR(200) NOT NULL DEFAULT '',
    total_exitosas INTEGER NOT NULL DEFAULT 0,
    total_fallidas INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_interaction TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_totals CHECK (total_exitosas + total_fallidas <= total)
);

CREATE INDEX IF NOT EXISTS idx_usuarios_last_interaction ON usuarios(last_interaction DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS usuarios;
`

// ─────────────────────────────────────────────────────────────────────────────
// 003: delivery history and error logs
// ─────────────────────────────────────────────────────────────────────────────

const migration003Up = `
CREATE TABLE IF NOT EXISTS historial_envio (
    id BIGSERIAL PRIMARY KEY,
    usuario_id BIGINT NOT NULL,
    archivo_key TEXT NOT NULL,
    envio_exitoso BOOLEAN NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_historial_envio_usuario ON historial_envio(usuario_id);
CREATE INDEX IF NOT EXISTS idx_historial_envio_archivo ON historial_envio(archivo_key);

CREATE TABLE IF NOT EXISTS errores_usuario (
    id BIGSERIAL PRIMARY KEY,
    usuario_id BIGINT NOT NULL,
    modulo VARCHAR(50) NOT NULL,
    tipo VARCHAR(20) NOT NULL,
    mensaje TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_errores_usuario_usuario ON errores_usuario(usuario_id, created_at DESC);

CREATE TABLE IF NOT EXISTS errores_internos (
    id BIGSERIAL PRIMARY KEY,
    modulo VARCHAR(50) NOT NULL,
    tipo VARCHAR(20) NOT NULL,
    mensaje TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_errores_internos_created ON errores_internos(created_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS errores_internos;
DROP TABLE IF EXISTS errores_usuario;
DROP TABLE IF EXISTS historial_envio;
`
