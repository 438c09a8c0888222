package conversation

import (
	"context"
	"slices"
	"strings"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// Command is a named selection operation carried by buttons and NLU payloads.
type Command string

const (
	CmdEmpezar           Command = "Empezar"
	CmdResetEspecialidad Command = "ResetEspecialidad"
	CmdResetCiclo        Command = "ResetCiclo"
	CmdCursos            Command = "Cursos"
	CmdSetFacultad       Command = "SetFacultad"
	CmdSetEspecialidad   Command = "SetEspecialidad"
	CmdSetCiclo          Command = "SetCiclo"
	CmdSetCurso          Command = "SetCurso"
	CmdSetCarpeta        Command = "SetCarpeta"
	CmdSetArchivo        Command = "SetArchivo"
)

// Payload encodes a button payload.
func Payload(cmd Command, arg string) string {
	return string(cmd) + ":" + arg
}

// ParsePayload splits "Command:Argument". A payload without a colon is a
// command with an empty argument; more than one colon is rejected.
func ParsePayload(payload string) (command, argument string, err error) {
	parts := strings.Split(payload, ":")
	if len(parts) > 2 {
		return "", "", shared.Protocol("dispatcher", "ParsePayload", "too many arguments in payload "+payload)
	}
	command = strings.TrimSpace(parts[0])
	if command == "" {
		return "", "", shared.Protocol("dispatcher", "ParsePayload", "empty command")
	}
	if len(parts) == 2 {
		argument = parts[1]
	}
	return command, argument, nil
}

// Args is a command argument: the raw button text, or NLU parameters.
// A named parameter takes precedence over the raw string.
type Args struct {
	Raw    string
	Params map[string]string
}

func (a Args) value(key string) string {
	if v := strings.TrimSpace(a.Params[key]); v != "" {
		return v
	}
	return strings.TrimSpace(a.Raw)
}

type commandFunc func(ctx context.Context, u *user.User, args Args) error

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher validates and executes commands against a user's selection.
type Dispatcher struct {
	store     PersistenceStore
	cascade   *Cascade
	presenter *Presenter
	delivery  *Delivery
	sink      errorSink
	log       *logger.Logger

	handlers map[Command]commandFunc
}

func newDispatcher(store PersistenceStore, cascade *Cascade, presenter *Presenter, delivery *Delivery, sink errorSink, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		cascade:   cascade,
		presenter: presenter,
		delivery:  delivery,
		sink:      sink,
		log:       log,
	}
	d.handlers = map[Command]commandFunc{
		CmdEmpezar:           d.empezar,
		CmdResetEspecialidad: d.resetEspecialidad,
		CmdResetCiclo:        d.resetCiclo,
		CmdCursos:            d.cursos,
		CmdSetFacultad:       d.setFacultad,
		CmdSetEspecialidad:   d.setEspecialidad,
		CmdSetCiclo:          d.setCiclo,
		CmdSetCurso:          d.setCurso,
		CmdSetCarpeta:        d.setCarpeta,
		CmdSetArchivo:        d.setArchivo,
	}
	return d
}

// Execute runs a command. Unknown commands are logged and rejected without
// touching the selection.
func (d *Dispatcher) Execute(ctx context.Context, u *user.User, command string, args Args) error {
	handler, ok := d.handlers[Command(command)]
	if !ok {
		err := shared.Resolution("dispatcher", "Execute", "unknown command "+command)
		d.sink.user(ctx, u.ID, "Dispatcher", err)
		return recorded(err)
	}

	d.log.Debug("executing command", logger.UserID(u.ID), logger.Command(command), logger.String("arg", args.Raw))
	return handler(ctx, u, args)
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (d *Dispatcher) empezar(ctx context.Context, u *user.User, _ Args) error {
	return d.presenter.regularize(ctx, u)
}

func (d *Dispatcher) resetEspecialidad(ctx context.Context, u *user.User, _ Args) error {
	u.ResetEspecialidad()
	return d.presenter.regularize(ctx, u)
}

func (d *Dispatcher) resetCiclo(ctx context.Context, u *user.User, _ Args) error {
	u.ResetCiclo()
	return d.presenter.regularize(ctx, u)
}

func (d *Dispatcher) cursos(ctx context.Context, u *user.User, _ Args) error {
	if !u.CanRequestCourses() {
		return d.presenter.regularize(ctx, u)
	}
	return d.presenter.sendAvailableCourses(ctx, u)
}

func (d *Dispatcher) setFacultad(ctx context.Context, u *user.User, args Args) error {
	facultad := args.value("facultad")
	especialidades, err := d.store.GetEspecialidadesByFacultad(ctx, facultad)
	if err != nil {
		return shared.Internal("dispatcher", "SetFacultad", "failed to load especialidades", err)
	}
	if len(especialidades) == 0 {
		return shared.Resolution("dispatcher", "SetFacultad", "no especialidades for facultad "+facultad)
	}
	return d.presenter.sendEspecialidades(ctx, u, especialidades)
}

func (d *Dispatcher) setEspecialidad(ctx context.Context, u *user.User, args Args) error {
	id := args.value("especialidad")
	esp, err := d.store.GetEspecialidadByID(ctx, id)
	if err != nil {
		return shared.Internal("dispatcher", "SetEspecialidad", "failed to load especialidad", err)
	}
	if esp == nil {
		return shared.Resolution("dispatcher", "SetEspecialidad", "especialidad "+id+" not found")
	}
	u.SetEspecialidad(esp.ID)
	return d.presenter.regularize(ctx, u)
}

func (d *Dispatcher) setCiclo(ctx context.Context, u *user.User, args Args) error {
	if u.Selection.Especialidad == "" {
		return d.prerequisite(ctx, u, shared.Prerequisite("dispatcher", "SetCiclo", "especialidad is not selected"))
	}

	nombre := args.value("ciclo")
	ciclos, err := d.store.GetCiclos(ctx)
	if err != nil {
		return shared.Internal("dispatcher", "SetCiclo", "failed to load ciclos", err)
	}
	i := slices.IndexFunc(ciclos, func(c catalog.Ciclo) bool { return c.Nombre == nombre })
	if i < 0 {
		return shared.Resolution("dispatcher", "SetCiclo", "ciclo "+nombre+" not found")
	}
	if err := u.SetCiclo(ciclos[i].Numero); err != nil {
		return err
	}
	return d.presenter.sendAvailableCourses(ctx, u)
}

func (d *Dispatcher) setCurso(ctx context.Context, u *user.User, args Args) error {
	codigo := args.value("curso")
	course, err := d.store.GetCourseByID(ctx, codigo)
	if err != nil {
		return shared.Internal("dispatcher", "SetCurso", "failed to load course", err)
	}
	if course == nil {
		u.Reset()
		return shared.Resolution("dispatcher", "SetCurso", "course "+codigo+" not found")
	}
	if err := u.SetCurso(course.Codigo); err != nil {
		if shared.IsPrerequisite(err) {
			return d.prerequisite(ctx, u, err)
		}
		u.Reset()
		return err
	}
	return d.presenter.sendAvailableFolders(ctx, u)
}

func (d *Dispatcher) setCarpeta(ctx context.Context, u *user.User, args Args) error {
	folder := args.value("carpeta")
	if !u.CanRequestFolders() {
		return d.prerequisite(ctx, u, shared.Prerequisite("dispatcher", "SetCarpeta", "curso is not selected"))
	}

	if folder != "" {
		known, err := d.cascade.DetectFolders(ctx, u, "")
		if err != nil {
			return err
		}
		if !slices.Contains(known, folder) {
			folder = ""
		}
	}
	if err := u.SetCarpeta(folder); err != nil {
		if shared.IsPrerequisite(err) {
			return d.prerequisite(ctx, u, err)
		}
		u.Reset()
		return shared.WrapError("dispatcher", "SetCarpeta", shared.ErrResolution, "unknown folder "+args.value("carpeta"), err)
	}
	return d.presenter.sendAvailableFiles(ctx, u)
}

func (d *Dispatcher) setArchivo(ctx context.Context, u *user.User, args Args) error {
	if !u.CanRequestFiles() {
		return d.prerequisite(ctx, u, shared.Prerequisite("dispatcher", "SetArchivo", "carpeta is not selected"))
	}
	files, err := d.cascade.DetectFiles(ctx, u, args.value("archivo"))
	if err != nil {
		return err
	}
	return d.delivery.SendFiles(ctx, u, files)
}

// prerequisite re-prompts at the missing level and returns err for logging.
func (d *Dispatcher) prerequisite(ctx context.Context, u *user.User, err error) error {
	if perr := d.presenter.regularize(ctx, u); perr != nil {
		return perr
	}
	return answered(err)
}
