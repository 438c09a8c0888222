package postgres

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
)

// Store implements the conversation PersistenceStore.
type Store struct {
	db Querier
}

// NewStore creates a Store on any Querier (a pool or a transaction).
func NewStore(db Querier) *Store {
	return &Store{db: db}
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

const userColumns = `id, valido, especialidad, ciclo, curso, carpeta,
	total_exitosas, total_fallidas, total, created_at, last_interaction`

// GetUserByID returns nil, nil when the user does not exist.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*user.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM usuarios WHERE id = $1`, id)

	var u user.User
	err := row.Scan(
		&u.ID, &u.Valid,
		&u.Selection.Especialidad, &u.Selection.Ciclo, &u.Selection.Curso, &u.Selection.Carpeta,
		&u.Requests.Successful, &u.Requests.Failed, &u.Requests.Total,
		&u.CreatedAt, &u.LastInteraction,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usuarios (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		userArgs(u)...,
	)
	if err != nil {
		return fmt.Errorf("create user %d: %w", u.ID, err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *user.User) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE usuarios SET
			valido = $2, especialidad = $3, ciclo = $4, curso = $5, carpeta = $6,
			total_exitosas = $7, total_fallidas = $8, total = $9, last_interaction = $10
		WHERE id = $1`,
		u.ID, u.Valid,
		u.Selection.Especialidad, u.Selection.Ciclo, u.Selection.Curso, u.Selection.Carpeta,
		u.Requests.Successful, u.Requests.Failed, u.Requests.Total,
		u.LastInteraction,
	)
	if err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user %d: %w", u.ID, pgx.ErrNoRows)
	}
	return nil
}

func userArgs(u *user.User) []any {
	return []any{
		u.ID, u.Valid,
		u.Selection.Especialidad, u.Selection.Ciclo, u.Selection.Curso, u.Selection.Carpeta,
		u.Requests.Successful, u.Requests.Failed, u.Requests.Total,
		u.CreatedAt, u.LastInteraction,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetFacultades(ctx context.Context) ([]catalog.Facultad, error) {
	rows, err := s.db.Query(ctx, `SELECT id, nombre FROM facultades ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("get facultades: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Facultad, error) {
		var f catalog.Facultad
		err := row.Scan(&f.ID, &f.Nombre)
		return f, err
	})
}

func (s *Store) GetEspecialidadByID(ctx context.Context, id string) (*catalog.Especialidad, error) {
	var e catalog.Especialidad
	err := s.db.QueryRow(ctx, `SELECT id, nombre, facultad FROM especialidades WHERE id = $1`, id).
		Scan(&e.ID, &e.Nombre, &e.Facultad)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get especialidad %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) GetEspecialidadesByFacultad(ctx context.Context, facultad string) ([]catalog.Especialidad, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, nombre, facultad FROM especialidades WHERE facultad = $1 ORDER BY id`, facultad)
	if err != nil {
		return nil, fmt.Errorf("get especialidades of %s: %w", facultad, err)
	}
	return pgx.CollectRows(rows, scanEspecialidad)
}

func scanEspecialidad(row pgx.CollectableRow) (catalog.Especialidad, error) {
	var e catalog.Especialidad
	err := row.Scan(&e.ID, &e.Nombre, &e.Facultad)
	return e, err
}

func (s *Store) GetCiclos(ctx context.Context) ([]catalog.Ciclo, error) {
	rows, err := s.db.Query(ctx, `SELECT nombre, numero FROM ciclos ORDER BY numero`)
	if err != nil {
		return nil, fmt.Errorf("get ciclos: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Ciclo, error) {
		var c catalog.Ciclo
		err := row.Scan(&c.Nombre, &c.Numero)
		return c, err
	})
}

const courseColumns = `c.codigo, c.nombre, c.creditos, c.sistema_evaluacion`

func scanCourse(row pgx.CollectableRow) (catalog.Course, error) {
	var c catalog.Course
	err := row.Scan(&c.Codigo, &c.Nombre, &c.Creditos, &c.SistemaEvaluacion)
	return c, err
}

func (s *Store) GetCourseByID(ctx context.Context, codigo string) (*catalog.Course, error) {
	rows, err := s.db.Query(ctx, `SELECT `+courseColumns+` FROM cursos c WHERE c.codigo = $1`, codigo)
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", codigo, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCourse)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get course %s: %w", codigo, err)
	}
	return &c, nil
}

// GetCoursesByUser returns the courses of the user's specialty and cycle.
func (s *Store) GetCoursesByUser(ctx context.Context, u *user.User) ([]catalog.Course, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+courseColumns+`
		FROM cursos c
		JOIN curso_especialidad ce ON ce.curso = c.codigo
		WHERE ce.especialidad = $1 AND ce.ciclo = $2
		ORDER BY c.nombre`,
		u.Selection.Especialidad, u.Selection.Ciclo,
	)
	if err != nil {
		return nil, fmt.Errorf("get courses of user %d: %w", u.ID, err)
	}
	return pgx.CollectRows(rows, scanCourse)
}

// GetProbableCoursesByUser returns every course of the user's specialty,
// closest cycles first.
func (s *Store) GetProbableCoursesByUser(ctx context.Context, u *user.User) ([]catalog.Course, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+courseColumns+`
		FROM cursos c
		JOIN curso_especialidad ce ON ce.curso = c.codigo
		WHERE ce.especialidad = $1
		ORDER BY abs(ce.ciclo - $2), c.nombre`,
		u.Selection.Especialidad, u.Selection.Ciclo,
	)
	if err != nil {
		return nil, fmt.Errorf("get probable courses of user %d: %w", u.ID, err)
	}
	return pgx.CollectRows(rows, scanCourse)
}

// ══════════════════════════════════════════════════════════════════════════════
// FILES
// ══════════════════════════════════════════════════════════════════════════════

// GetFileByKey returns the stored record, or a fresh record derived from the
// key when the file has never been sent.
func (s *Store) GetFileByKey(ctx context.Context, key string) (*catalog.Material, error) {
	var (
		m       catalog.Material
		tipo    string
		reuseID *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT key, short_name, tipo, pagina, reuse_id, envios FROM archivos WHERE key = $1`, key).
		Scan(&m.Key, &m.ShortName, &tipo, &m.Page, &reuseID, &m.SendCount)
	if err != nil {
		if IsNoRows(err) {
			return materialFromKey(key), nil
		}
		return nil, fmt.Errorf("get file %s: %w", key, err)
	}
	m.Type = catalog.MaterialType(tipo)
	if reuseID != nil {
		m.ReuseID = *reuseID
	}
	return &m, nil
}

// UpdateFile upserts the record. A stored reuse id is never replaced.
func (s *Store) UpdateFile(ctx context.Context, m *catalog.Material) error {
	var reuseID *string
	if m.HasReuseID() {
		reuseID = &m.ReuseID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO archivos (key, short_name, tipo, pagina, reuse_id, envios)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			envios = EXCLUDED.envios,
			reuse_id = COALESCE(archivos.reuse_id, EXCLUDED.reuse_id),
			updated_at = NOW()`,
		m.Key, m.ShortName, string(m.Type), m.Page, reuseID, m.SendCount,
	)
	if err != nil {
		return fmt.Errorf("update file %s: %w", m.Key, err)
	}
	return nil
}

// materialFromKey derives a record for "a/b/parcial-2019-p2.pdf":
// short name "parcial-2019", page 2.
func materialFromKey(key string) *catalog.Material {
	name := strings.TrimSuffix(path.Base(key), path.Ext(key))
	page := 0
	if i := strings.LastIndex(name, "-p"); i > 0 {
		if n, err := strconv.Atoi(name[i+2:]); err == nil && n > 0 {
			name, page = name[:i], n
		}
	}
	return &catalog.Material{
		Key:       key,
		ShortName: name,
		Type:      catalog.TypeForKey(key),
		Page:      page,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) LogUserError(ctx context.Context, userID int64, module string, err error) error {
	_, execErr := s.db.Exec(ctx,
		`INSERT INTO errores_usuario (usuario_id, modulo, tipo, mensaje) VALUES ($1, $2, $3, $4)`,
		userID, module, shared.KindOf(err), errorMessage(err),
	)
	if execErr != nil {
		return fmt.Errorf("log user error: %w", execErr)
	}
	return nil
}

func (s *Store) LogInternalError(ctx context.Context, module string, err error) error {
	_, execErr := s.db.Exec(ctx,
		`INSERT INTO errores_internos (modulo, tipo, mensaje) VALUES ($1, $2, $3)`,
		module, shared.KindOf(err), errorMessage(err),
	)
	if execErr != nil {
		return fmt.Errorf("log internal error: %w", execErr)
	}
	return nil
}

func (s *Store) LogTransaction(ctx context.Context, userID int64, key string, success bool) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO historial_envio (usuario_id, archivo_key, envio_exitoso) VALUES ($1, $2, $3)`,
		userID, key, success,
	)
	if err != nil {
		return fmt.Errorf("log transaction: %w", err)
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
