// Package user содержит доменную модель пользователя бота и его выбор
// в иерархии факультет → специальность → цикл → курс → папка.
// Здесь нет внешних зависимостей.
package user

import (
	"time"

	"github.com/estudia/material-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SELECTION
// ══════════════════════════════════════════════════════════════════════════════

// Selection - текущий выбор пользователя. Пустая строка или 0 означает "не выбрано".
// Поле может быть заполнено только если заполнены все поля выше него.
type Selection struct {
	Especialidad string
	Ciclo        int
	Curso        string
	Carpeta      string
}

// Stage - первый незаполненный уровень выбора.
type Stage int

const (
	StageNoEspecialidad Stage = iota
	StageNoCiclo
	StageNoCurso
	StageNoCarpeta
	StageComplete
)

// String возвращает имя стадии для логов.
func (s Stage) String() string {
	switch s {
	case StageNoEspecialidad:
		return "no_especialidad"
	case StageNoCiclo:
		return "no_ciclo"
	case StageNoCurso:
		return "no_curso"
	case StageNoCarpeta:
		return "no_carpeta"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Stage вычисляет стадию по первому пустому полю.
func (s Selection) Stage() Stage {
	switch {
	case s.Especialidad == "":
		return StageNoEspecialidad
	case s.Ciclo == 0:
		return StageNoCiclo
	case s.Curso == "":
		return StageNoCurso
	case s.Carpeta == "":
		return StageNoCarpeta
	default:
		return StageComplete
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST COUNTERS
// ══════════════════════════════════════════════════════════════════════════════

// Requests - счётчики запросов на отправку файлов.
// Successful + Failed не превышает Total.
type Requests struct {
	Successful int
	Failed     int
	Total      int
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// User - пользователь бота. ID совпадает с идентификатором чата в канале.
type User struct {
	ID              int64
	Valid           bool
	Selection       Selection
	Requests        Requests
	CreatedAt       time.Time
	LastInteraction time.Time
}

// New создаёт нового валидного пользователя с пустым выбором.
func New(id int64, now time.Time) *User {
	return &User{
		ID:              id,
		Valid:           true,
		CreatedAt:       now,
		LastInteraction: now,
	}
}

// Stage возвращает текущую стадию выбора.
func (u *User) Stage() Stage {
	return u.Selection.Stage()
}

// CanRequestCourses - выбраны специальность и цикл.
func (u *User) CanRequestCourses() bool {
	return u.Selection.Especialidad != "" && u.Selection.Ciclo != 0
}

// CanRequestFolders - выбран курс.
func (u *User) CanRequestFolders() bool {
	return u.CanRequestCourses() && u.Selection.Curso != ""
}

// CanRequestFiles - выбрана папка.
func (u *User) CanRequestFiles() bool {
	return u.CanRequestFolders() && u.Selection.Carpeta != ""
}

// SetEspecialidad всегда разрешён и сбрасывает всё, что ниже.
func (u *User) SetEspecialidad(id string) {
	u.Selection = Selection{Especialidad: id}
}

// ResetEspecialidad очищает весь выбор.
func (u *User) ResetEspecialidad() {
	u.Selection = Selection{}
}

// SetCiclo требует выбранную специальность.
func (u *User) SetCiclo(numero int) error {
	if u.Selection.Especialidad == "" {
		u.Selection.Ciclo, u.Selection.Curso, u.Selection.Carpeta = 0, "", ""
		return shared.Prerequisite("selection", "SetCiclo", "especialidad is not selected")
	}
	if numero <= 0 {
		return shared.Resolution("selection", "SetCiclo", "ciclo must be positive")
	}
	u.Selection.Ciclo = numero
	u.Selection.Curso, u.Selection.Carpeta = "", ""
	return nil
}

// ResetCiclo очищает цикл и всё, что ниже.
func (u *User) ResetCiclo() {
	u.Selection.Ciclo, u.Selection.Curso, u.Selection.Carpeta = 0, "", ""
}

// SetCurso требует выбранный цикл. Проверка существования курса - забота вызывающего.
func (u *User) SetCurso(codigo string) error {
	if !u.CanRequestCourses() {
		u.Selection.Curso, u.Selection.Carpeta = "", ""
		return shared.Prerequisite("selection", "SetCurso", "ciclo is not selected")
	}
	if codigo == "" {
		u.Reset()
		return shared.Resolution("selection", "SetCurso", "empty course code")
	}
	u.Selection.Curso = codigo
	u.Selection.Carpeta = ""
	return nil
}

// SetCarpeta требует выбранный курс. Пустое имя сбрасывает весь выбор.
func (u *User) SetCarpeta(name string) error {
	if !u.CanRequestFolders() {
		u.Selection.Carpeta = ""
		return shared.Prerequisite("selection", "SetCarpeta", "curso is not selected")
	}
	if name == "" {
		u.Reset()
		return shared.Resolution("selection", "SetCarpeta", "empty folder name")
	}
	u.Selection.Carpeta = name
	return nil
}

// Reset очищает весь выбор.
func (u *User) Reset() {
	u.Selection = Selection{}
}

// RecordRequest учитывает одну попытку отправки.
func (u *User) RecordRequest() {
	u.Requests.Total++
}

// RecordOutcome учитывает итог попытки. Вызывается ровно один раз после RecordRequest.
func (u *User) RecordOutcome(success bool) {
	if success {
		u.Requests.Successful++
	} else {
		u.Requests.Failed++
	}
}

// Touch обновляет время последнего взаимодействия.
func (u *User) Touch(now time.Time) {
	u.LastInteraction = now
}
