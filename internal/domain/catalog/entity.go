// Package catalog описывает учебный каталог: факультеты, специальности,
// циклы, курсы и файлы материалов, лежащие в хранилище.
package catalog

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/estudia/material-bot/pkg/textnorm"
)

// Facultad - факультет.
type Facultad struct {
	ID     string
	Nombre string
}

// Especialidad - специальность внутри факультета.
type Especialidad struct {
	ID       string
	Nombre   string
	Facultad string
}

// Ciclo - учебный цикл (семестр). Пользователь выбирает по Nombre, хранится Numero.
type Ciclo struct {
	Nombre string
	Numero int
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE
// ══════════════════════════════════════════════════════════════════════════════

// Course - курс учебного плана.
type Course struct {
	Codigo            string
	Nombre            string
	Creditos          int
	SistemaEvaluacion string
}

// MatchesName проверяет, встречается ли text в названии курса как целые слова.
// "calculo i" совпадает с "Cálculo I", но не с "Cálculo II".
func (c Course) MatchesName(text string) bool {
	needle := strings.TrimSpace(textnorm.Fold(text))
	if needle == "" {
		return false
	}
	hay := textnorm.Fold(c.Nombre)
	for from := 0; from <= len(hay)-len(needle); {
		i := strings.Index(hay[from:], needle)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(needle)
		if wordBoundaryBefore(hay, start) && wordBoundaryAfter(hay, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(hay[start:])
		from = start + size
	}
	return false
}

func wordBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func wordBoundaryAfter(s string, i int) bool {
	if i == len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }

// ══════════════════════════════════════════════════════════════════════════════
// MATERIAL
// ══════════════════════════════════════════════════════════════════════════════

// MaterialType - тип вложения, определяется по расширению ключа.
type MaterialType string

const (
	TypeImage MaterialType = "image"
	TypeVideo MaterialType = "video"
	TypeAudio MaterialType = "audio"
	TypeFile  MaterialType = "file"
)

var extensionTypes = map[string]MaterialType{
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".png":  TypeImage,
	".gif":  TypeImage,
	".webp": TypeImage,
	".mp4":  TypeVideo,
	".mov":  TypeVideo,
	".mp3":  TypeAudio,
	".ogg":  TypeAudio,
	".m4a":  TypeAudio,
}

// TypeForKey определяет тип вложения по ключу объекта.
func TypeForKey(key string) MaterialType {
	if t, ok := extensionTypes[strings.ToLower(path.Ext(key))]; ok {
		return t
	}
	return TypeFile
}

// IsFileKey - ключ указывает на файл, а не на "папку": в базовом имени есть точка.
func IsFileKey(key string) bool {
	return strings.Contains(path.Base(key), ".") && !strings.HasSuffix(key, "/")
}

// Material - один файл учебного материала. Многостраничные документы
// хранятся как несколько Material с одинаковым ShortName и разными Page.
type Material struct {
	Key       string
	ShortName string
	Type      MaterialType
	Page      int

	// ReuseID выдаёт канал после первой успешной отправки. Пустая строка - ещё нет.
	ReuseID   string
	SendCount int
}

// HasReuseID - у файла уже есть идентификатор повторной отправки.
func (m *Material) HasReuseID() bool {
	return m.ReuseID != ""
}

// SetReuseID записывает идентификатор только один раз.
func (m *Material) SetReuseID(id string) bool {
	if m.ReuseID != "" || id == "" {
		return false
	}
	m.ReuseID = id
	return true
}

// IncrementSendCount учитывает успешную отправку.
func (m *Material) IncrementSendCount() {
	m.SendCount++
}

// MatchesText: пустой запрос совпадает со всем, иначе запрос должен
// совпадать с коротким именем или содержать его.
func (m *Material) MatchesText(query string) bool {
	q := foldName(query)
	if q == "" {
		return true
	}
	name := foldName(m.ShortName)
	if name == "" {
		return false
	}
	return q == name || strings.Contains(q, name)
}

func foldName(s string) string {
	s = textnorm.Fold(s)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
