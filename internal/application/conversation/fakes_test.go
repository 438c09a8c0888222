package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

type sentMessage struct {
	kind        string
	text        string
	buttons     []channel.Button
	options     []channel.Option
	attachments []channel.Attachment
}

type fakeChannel struct {
	mu       sync.Mutex
	messages []sentMessage

	// failAttachment marks batch positions that the channel rejects.
	failAttachment map[int]bool
	failBatch      error
	failURLs       error
	failButtons    error
	nextReuseID    int
}

func (c *fakeChannel) record(m sentMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *fakeChannel) sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeChannel) last(t *testing.T) sentMessage {
	t.Helper()
	msgs := c.sent()
	require.NotEmpty(t, msgs, "no message was sent")
	return msgs[len(msgs)-1]
}

func (c *fakeChannel) StartInteraction(context.Context, int64) error { return nil }

func (c *fakeChannel) SendText(_ context.Context, _ int64, text string, _ bool) error {
	c.record(sentMessage{kind: "text", text: text})
	return nil
}

func (c *fakeChannel) SendTextWithURLs(_ context.Context, _ int64, text string, _ bool) error {
	if c.failURLs != nil {
		return c.failURLs
	}
	c.record(sentMessage{kind: "text_urls", text: text})
	return nil
}

func (c *fakeChannel) SendAttachment(_ context.Context, _ int64, a channel.Attachment) (string, error) {
	c.record(sentMessage{kind: "attachment", attachments: []channel.Attachment{a}})
	return "single", nil
}

func (c *fakeChannel) SendSequentialAttachments(_ context.Context, _ int64, as []channel.Attachment) ([]channel.Outcome, error) {
	c.record(sentMessage{kind: "attachments", attachments: as})
	if c.failBatch != nil {
		return nil, c.failBatch
	}
	out := make([]channel.Outcome, len(as))
	for i := range as {
		if c.failAttachment[i] {
			out[i] = channel.Outcome{Err: errors.New("upload rejected")}
			continue
		}
		c.mu.Lock()
		c.nextReuseID++
		out[i] = channel.Outcome{ReuseID: "fid-" + string(rune('0'+c.nextReuseID))}
		c.mu.Unlock()
	}
	return out, nil
}

func (c *fakeChannel) SendOptionsMenu(_ context.Context, _ int64, options []channel.Option) error {
	c.record(sentMessage{kind: "options", options: options})
	return nil
}

func (c *fakeChannel) SendReplyButtons(_ context.Context, _ int64, text string, buttons []channel.Button) error {
	if c.failButtons != nil {
		return c.failButtons
	}
	c.record(sentMessage{kind: "buttons", text: text, buttons: buttons})
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

type transaction struct {
	key     string
	success bool
}

type fakeStore struct {
	mu sync.Mutex

	users          map[int64]*user.User
	facultades     []catalog.Facultad
	especialidades []catalog.Especialidad
	ciclos         []catalog.Ciclo
	courses        []catalog.Course
	files          map[string]*catalog.Material

	transactions []transaction
	userErrors   []error
	internalErrs []error
	updatedFiles []string

	probableErr error
	getUserErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[int64]*user.User{},
		facultades: []catalog.Facultad{{ID: "FIIS", Nombre: "Ingeniería Industrial y de Sistemas"}},
		especialidades: []catalog.Especialidad{
			{ID: "SIS", Nombre: "Sistemas", Facultad: "FIIS"},
			{ID: "IND", Nombre: "Industrial", Facultad: "FIIS"},
		},
		ciclos: []catalog.Ciclo{{Nombre: "Primero", Numero: 1}, {Nombre: "Segundo", Numero: 2}},
		courses: []catalog.Course{
			{Codigo: "MA101", Nombre: "Cálculo I", Creditos: 5, SistemaEvaluacion: "F"},
			{Codigo: "MA102", Nombre: "Cálculo II", Creditos: 5, SistemaEvaluacion: "F"},
			{Codigo: "FI101", Nombre: "Física General", Creditos: 4, SistemaEvaluacion: "G"},
		},
		files: map[string]*catalog.Material{},
	}
}

func (s *fakeStore) GetUserByID(_ context.Context, id int64) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getUserErr != nil {
		return nil, s.getUserErr
	}
	return s.users[id], nil
}

func (s *fakeStore) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) UpdateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) GetFacultades(context.Context) ([]catalog.Facultad, error) {
	return s.facultades, nil
}

func (s *fakeStore) GetEspecialidadByID(_ context.Context, id string) (*catalog.Especialidad, error) {
	for _, e := range s.especialidades {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetEspecialidadesByFacultad(_ context.Context, facultad string) ([]catalog.Especialidad, error) {
	var out []catalog.Especialidad
	for _, e := range s.especialidades {
		if e.Facultad == facultad {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) GetCiclos(context.Context) ([]catalog.Ciclo, error) { return s.ciclos, nil }

func (s *fakeStore) GetCourseByID(_ context.Context, codigo string) (*catalog.Course, error) {
	for _, c := range s.courses {
		if c.Codigo == codigo {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetCoursesByUser(context.Context, *user.User) ([]catalog.Course, error) {
	return s.courses, nil
}

func (s *fakeStore) GetProbableCoursesByUser(context.Context, *user.User) ([]catalog.Course, error) {
	if s.probableErr != nil {
		return nil, s.probableErr
	}
	return s.courses, nil
}

func (s *fakeStore) GetFileByKey(_ context.Context, key string) (*catalog.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.files[key]; ok {
		return m, nil
	}
	return &catalog.Material{Key: key, ShortName: key, Type: catalog.TypeForKey(key)}, nil
}

func (s *fakeStore) UpdateFile(_ context.Context, m *catalog.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedFiles = append(s.updatedFiles, m.Key)
	return nil
}

func (s *fakeStore) LogUserError(_ context.Context, _ int64, _ string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userErrors = append(s.userErrors, err)
	return nil
}

func (s *fakeStore) LogInternalError(_ context.Context, _ string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internalErrs = append(s.internalErrs, err)
	return nil
}

func (s *fakeStore) LogTransaction(_ context.Context, _ int64, key string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, transaction{key: key, success: success})
	return nil
}

func (s *fakeStore) addFile(m *catalog.Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[m.Key] = m
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT, NLP, CACHE
// ══════════════════════════════════════════════════════════════════════════════

type fakeContent struct {
	mu      sync.Mutex
	keys    []string
	badURLs map[string]bool
	lists   int
}

func (c *fakeContent) ListObjectsUnder(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	var out []string
	for _, k := range c.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *fakeContent) ListObjectsDirectlyUnder(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	seen := map[string]bool{}
	var out []string
	for _, k := range c.keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			child := prefix + rest[:i+1]
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (c *fakeContent) GetPublicURL(_ context.Context, key string) (string, error) {
	if c.badURLs[key] {
		return "", errors.New("presign failed")
	}
	return "https://cdn.test/" + key, nil
}

type fakeNLP struct {
	intent Intent
	err    error
	texts  []string
}

func (n *fakeNLP) ProcessText(_ context.Context, _ string, text string) (Intent, error) {
	n.texts = append(n.texts, text)
	return n.intent, n.err
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]string
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]string{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	ch      *fakeChannel
	store   *fakeStore
	content *fakeContent
	nlp     *fakeNLP
	cache   *mapCache
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ch:    &fakeChannel{},
		store: newFakeStore(),
		content: &fakeContent{keys: []string{
			"FIIS/MA101/examenes/parcial-2019.pdf",
			"FIIS/MA101/examenes/final-2019.pdf",
			"FIIS/MA101/practicas-calificadas/pc1.pdf",
			"media/welcome/hola.png",
			"media/memes/uno.jpg",
			"media/memes/dos.jpg",
		}},
		nlp:   &fakeNLP{err: errors.New("nlp offline")},
		cache: newMapCache(),
	}
	// Phrases are disabled so listing intros come from the local templates.
	msgs := DefaultMessages()
	msgs.FoldersPhrase, msgs.FilesPhrase = "", ""

	orch, err := NewOrchestrator(Deps{
		Channel: f.ch,
		NLP:     f.nlp,
		Content: f.content,
		Store:   f.store,
		Cache:   f.cache,
		Clock:   func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	}, Options{Messages: msgs, MediaFolder: "media", Pick: func(int) int { return 1 }})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) userAt(sel user.Selection) *user.User {
	u := user.New(99, time.Now())
	u.Selection = sel
	f.store.users[u.ID] = u
	return u
}

func buttonPayloads(m sentMessage) []string {
	out := make([]string, len(m.buttons))
	for i, b := range m.buttons {
		out[i] = b.Payload
	}
	return out
}
