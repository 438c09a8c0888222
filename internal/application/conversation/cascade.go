package conversation

import (
	"cmp"
	"context"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
	"github.com/estudia/material-bot/pkg/textnorm"
)

// minCandidateWordLen filters out articles and prepositions from course matching.
const minCandidateWordLen = 5

// ══════════════════════════════════════════════════════════════════════════════
// INTENT CASCADE
// Course, folder and file detection from free text.
// ══════════════════════════════════════════════════════════════════════════════

// Cascade detects which courses, folders or files a message refers to.
// Every stage requires the user to be eligible for it and returns nothing otherwise.
type Cascade struct {
	store   PersistenceStore
	content ContentStore
	cache   Cache
}

// NewCascade creates a Cascade.
func NewCascade(store PersistenceStore, content ContentStore, cache Cache) *Cascade {
	return &Cascade{store: store, content: content, cache: cache}
}

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

// DetectCourses returns the courses text refers to.
// Exact matches win outright; otherwise partial matches are ranked by how many
// candidate words hit the name, most hits first, ties in store order.
func (c *Cascade) DetectCourses(ctx context.Context, u *user.User, text string) ([]catalog.Course, error) {
	if !u.CanRequestCourses() {
		return nil, nil
	}

	words := textnorm.LongWords(text, minCandidateWordLen)
	if len(words) == 0 {
		return nil, nil
	}

	courses, err := c.store.GetProbableCoursesByUser(ctx, u)
	if err != nil {
		return nil, shared.Internal("cascade", "DetectCourses", "failed to load probable courses", err)
	}

	partial := make([]catalog.Course, 0, len(courses))
	for _, course := range courses {
		if hits(course, words) > 0 {
			partial = append(partial, course)
		}
	}

	complete := textnorm.Words(text)
	var exact []catalog.Course
	for _, course := range partial {
		if isExactMatch(course, text, complete) {
			exact = append(exact, course)
		}
	}
	if len(exact) > 0 {
		return exact, nil
	}

	return rankCourses(partial, words), nil
}

func hits(course catalog.Course, words []string) int {
	n := 0
	for _, w := range words {
		if course.MatchesName(w) {
			n++
		}
	}
	return n
}

func isExactMatch(course catalog.Course, text string, words []string) bool {
	if course.MatchesName(text) {
		return true
	}
	for _, w := range words {
		if !course.MatchesName(w) {
			return false
		}
	}
	return len(words) > 0
}

// rankCourses orders courses by descending hit count. The sort is stable.
func rankCourses(courses []catalog.Course, words []string) []catalog.Course {
	type scored struct {
		course catalog.Course
		hits   int
	}
	ranked := make([]scored, len(courses))
	for i, course := range courses {
		ranked[i] = scored{course: course, hits: hits(course, words)}
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(b.hits, a.hits)
	})

	out := make([]catalog.Course, len(ranked))
	for i, r := range ranked {
		out[i] = r.course
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Folders
// ─────────────────────────────────────────────────────────────────────────────

// DetectFolders returns the folders of the selected course that text names.
// Empty text returns every folder.
func (c *Cascade) DetectFolders(ctx context.Context, u *user.User, text string) ([]string, error) {
	if !u.CanRequestFolders() {
		return nil, nil
	}

	facultad, err := c.facultadOf(ctx, u, "DetectFolders")
	if err != nil {
		return nil, err
	}

	prefix := facultad + "/" + u.Selection.Curso + "/"
	folders, ok := c.cache.Get(ctx, prefix)
	if !ok {
		children, err := c.content.ListObjectsDirectlyUnder(ctx, prefix)
		if err != nil {
			return nil, shared.Internal("cascade", "DetectFolders", "failed to list folders", err)
		}
		folders = make([]string, 0, len(children))
		for _, child := range children {
			name := strings.TrimSuffix(strings.TrimPrefix(child, prefix), "/")
			if name != "" {
				folders = append(folders, name)
			}
		}
		c.cache.Set(ctx, prefix, folders)
	}

	return matchFolders(folders, text), nil
}

// matchFolders keeps folders whose name contains text, or whose name appears
// in text with hyphens written as spaces or dropped.
func matchFolders(folders []string, text string) []string {
	query := strings.TrimSpace(textnorm.Fold(text))
	if query == "" {
		return slices.Clone(folders)
	}

	var out []string
	for _, folder := range folders {
		name := textnorm.Fold(folder)
		if strings.Contains(name, query) || folderPattern(name).MatchString(query) {
			out = append(out, folder)
		}
	}
	return out
}

func folderPattern(name string) *regexp.Regexp {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("(?i)" + strings.Join(parts, "(?:-| )?"))
}

// ─────────────────────────────────────────────────────────────────────────────
// Files
// ─────────────────────────────────────────────────────────────────────────────

// DetectFiles returns the files of the selected folder matching text.
// Empty text returns every file.
func (c *Cascade) DetectFiles(ctx context.Context, u *user.User, text string) ([]*catalog.Material, error) {
	if !u.CanRequestFiles() {
		return nil, nil
	}

	facultad, err := c.facultadOf(ctx, u, "DetectFiles")
	if err != nil {
		return nil, err
	}

	prefix := facultad + "/" + u.Selection.Curso + "/" + u.Selection.Carpeta + "/"
	keys, err := c.fileKeys(ctx, prefix)
	if err != nil {
		return nil, shared.Internal("cascade", "DetectFiles", "failed to list files", err)
	}

	files := make([]*catalog.Material, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			m, err := c.store.GetFileByKey(gctx, key)
			if err != nil {
				return err
			}
			files[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, shared.Internal("cascade", "DetectFiles", "failed to load file records", err)
	}

	var out []*catalog.Material
	for _, m := range files {
		if m != nil && m.MatchesText(text) {
			out = append(out, m)
		}
	}
	return out, nil
}

// fileKeys lists the file keys under prefix through the cache.
func (c *Cascade) fileKeys(ctx context.Context, prefix string) ([]string, error) {
	if keys, ok := c.cache.Get(ctx, prefix); ok {
		return keys, nil
	}

	all, err := c.content.ListObjectsUnder(ctx, prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(all))
	for _, key := range all {
		if catalog.IsFileKey(key) {
			keys = append(keys, key)
		}
	}
	c.cache.Set(ctx, prefix, keys)
	return keys, nil
}

func (c *Cascade) facultadOf(ctx context.Context, u *user.User, op string) (string, error) {
	esp, err := c.store.GetEspecialidadByID(ctx, u.Selection.Especialidad)
	if err != nil {
		return "", shared.Internal("cascade", op, "failed to load especialidad", err)
	}
	if esp == nil {
		return "", shared.Internal("cascade", op, "especialidad "+u.Selection.Especialidad+" not found", nil)
	}
	return esp.Facultad, nil
}
