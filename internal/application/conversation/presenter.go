package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGULARIZE
// ══════════════════════════════════════════════════════════════════════════════

// Prompt is the selection prompt a user must answer before continuing.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptFacultad
	PromptCiclo
)

// Regularize decides which prompt brings the user back to a usable selection.
// It is pure: calling it twice on the same user yields the same prompt.
func Regularize(u *user.User) Prompt {
	switch {
	case u.Selection.Especialidad == "":
		return PromptFacultad
	case u.Selection.Ciclo == 0:
		return PromptCiclo
	default:
		return PromptNone
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESENTER
// Renders catalog levels as channel messages.
// ══════════════════════════════════════════════════════════════════════════════

// Presenter sends selection prompts and listings.
type Presenter struct {
	channel channel.MessageChannel
	store   PersistenceStore
	nlp     NLPEngine
	cascade *Cascade
	msgs    Messages
	sink    errorSink
}

// regularize sends the prompt chosen by Regularize, if any.
func (p *Presenter) regularize(ctx context.Context, u *user.User) error {
	switch Regularize(u) {
	case PromptFacultad:
		facultades, err := p.store.GetFacultades(ctx)
		if err != nil {
			return shared.Internal("presenter", "Regularize", "failed to load facultades", err)
		}
		buttons := make([]channel.Button, 0, len(facultades))
		for _, f := range facultades {
			buttons = append(buttons, channel.Button{Title: f.ID, Payload: Payload(CmdSetFacultad, f.ID)})
		}
		return p.replyButtons(ctx, u, p.msgs.SelectFacultad, buttons)

	case PromptCiclo:
		ciclos, err := p.store.GetCiclos(ctx)
		if err != nil {
			return shared.Internal("presenter", "Regularize", "failed to load ciclos", err)
		}
		buttons := make([]channel.Button, 0, len(ciclos))
		for _, c := range ciclos {
			buttons = append(buttons, channel.Button{Title: c.Nombre, Payload: Payload(CmdSetCiclo, c.Nombre)})
		}
		return p.replyButtons(ctx, u, p.msgs.SelectCiclo, buttons)
	}
	return nil
}

// sendEspecialidades lists the specialties of a faculty.
func (p *Presenter) sendEspecialidades(ctx context.Context, u *user.User, especialidades []catalog.Especialidad) error {
	buttons := make([]channel.Button, 0, len(especialidades))
	for _, e := range especialidades {
		buttons = append(buttons, channel.Button{Title: e.ID, Payload: Payload(CmdSetEspecialidad, e.ID)})
	}
	return p.replyButtons(ctx, u, p.msgs.SelectEspecialidad, buttons)
}

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

func (p *Presenter) sendAvailableCourses(ctx context.Context, u *user.User) error {
	courses, err := p.store.GetCoursesByUser(ctx, u)
	if err != nil {
		return shared.Internal("presenter", "SendAvailableCourses", "failed to load courses", err)
	}
	return p.sendCourses(ctx, u, courses)
}

// sendCourses renders one option per course, in the given order.
func (p *Presenter) sendCourses(ctx context.Context, u *user.User, courses []catalog.Course) error {
	if len(courses) == 0 {
		return p.text(ctx, u, p.msgs.NoCourses)
	}
	options := make([]channel.Option, 0, len(courses))
	for _, c := range courses {
		options = append(options, channel.Option{
			Title:    strings.ToUpper(c.Nombre),
			Subtitle: fmt.Sprintf("Sis. de evaluación: %s\nCréditos: %d", c.SistemaEvaluacion, c.Creditos),
			Buttons: []channel.Button{
				{Title: "MATERIAL " + c.Codigo, Payload: Payload(CmdSetCurso, c.Codigo)},
			},
		})
	}
	if err := p.channel.SendOptionsMenu(ctx, u.ID, options); err != nil {
		return shared.Transport("presenter", "SendCourses", "failed to send options menu", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Folders
// ─────────────────────────────────────────────────────────────────────────────

func (p *Presenter) sendAvailableFolders(ctx context.Context, u *user.User) error {
	folders, err := p.cascade.DetectFolders(ctx, u, "")
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		return p.text(ctx, u, p.msgs.NoFolders)
	}
	return p.sendFolders(ctx, u, folders)
}

func (p *Presenter) sendFolders(ctx context.Context, u *user.User, folders []string) error {
	buttons := make([]channel.Button, 0, len(folders))
	for _, f := range folders {
		buttons = append(buttons, channel.Button{
			Title:   strings.ReplaceAll(f, "-", " "),
			Payload: Payload(CmdSetCarpeta, f),
		})
	}
	intro := p.intro(ctx, u, p.msgs.FoldersPhrase, p.msgs.FoldersTemplate, u.Selection.Curso)
	return p.replyButtons(ctx, u, intro, buttons)
}

// ─────────────────────────────────────────────────────────────────────────────
// Files
// ─────────────────────────────────────────────────────────────────────────────

func (p *Presenter) sendAvailableFiles(ctx context.Context, u *user.User) error {
	files, err := p.cascade.DetectFiles(ctx, u, "")
	if err != nil {
		return err
	}
	return p.sendFileOptions(ctx, u, files)
}

// sendFileOptions offers one button per distinct short name.
func (p *Presenter) sendFileOptions(ctx context.Context, u *user.User, files []*catalog.Material) error {
	if len(files) == 0 {
		return p.text(ctx, u, p.msgs.NoFiles)
	}
	seen := make(map[string]struct{}, len(files))
	buttons := make([]channel.Button, 0, len(files))
	for _, f := range files {
		if _, dup := seen[f.ShortName]; dup {
			continue
		}
		seen[f.ShortName] = struct{}{}
		buttons = append(buttons, channel.Button{Title: f.ShortName, Payload: Payload(CmdSetArchivo, f.ShortName)})
	}
	intro := p.intro(ctx, u, p.msgs.FilesPhrase, p.msgs.FilesTemplate, u.Selection.Carpeta)
	return p.replyButtons(ctx, u, intro, buttons)
}

// sendRetryPrompt offers to resend a file or go back to the folder.
func (p *Presenter) sendRetryPrompt(ctx context.Context, u *user.User, shortName string) error {
	buttons := []channel.Button{
		{Title: p.msgs.RetryYes, Payload: Payload(CmdSetArchivo, shortName)},
		{Title: p.msgs.RetryNo, Payload: Payload(CmdSetCarpeta, u.Selection.Carpeta)},
	}
	return p.replyButtons(ctx, u, p.msgs.RetryPrompt, buttons)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// intro asks the NLU agent for the listing intro and falls back to the local template.
func (p *Presenter) intro(ctx context.Context, u *user.User, phrase, template, name string) string {
	if phrase != "" && p.nlp != nil {
		intent, err := p.nlp.ProcessText(ctx, sessionID(u.ID), phrase)
		if err == nil && strings.Contains(intent.Text, "***") {
			return fillTemplate(intent.Text, name)
		}
		if err != nil {
			p.sink.internal(ctx, "NLPEngine", err)
		}
	}
	return fillTemplate(template, name)
}

func (p *Presenter) replyButtons(ctx context.Context, u *user.User, text string, buttons []channel.Button) error {
	if err := p.channel.SendReplyButtons(ctx, u.ID, text, buttons); err != nil {
		return shared.Transport("presenter", "SendReplyButtons", "failed to send buttons", err)
	}
	return nil
}

func (p *Presenter) text(ctx context.Context, u *user.User, text string) error {
	if err := p.channel.SendText(ctx, u.ID, text, false); err != nil {
		return shared.Transport("presenter", "SendText", "failed to send text", err)
	}
	return nil
}
