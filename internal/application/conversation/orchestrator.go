package conversation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/estudia/material-bot/internal/domain/channel"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATOR
// Public facade: one call per inbound event, no failure escapes it.
// ══════════════════════════════════════════════════════════════════════════════

// Deps are the capabilities the orchestrator runs on.
type Deps struct {
	Channel  channel.MessageChannel
	NLP      NLPEngine
	Content  ContentStore
	Store    PersistenceStore
	Cache    Cache
	Observer Observer
	Logger   *logger.Logger
	Clock    Clock
}

// Options tune copy and media.
type Options struct {
	Messages    Messages
	MediaFolder string

	// Pick chooses a random index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

// Orchestrator wires the cascade, dispatcher and delivery into conversation turns.
type Orchestrator struct {
	channel  channel.MessageChannel
	nlp      NLPEngine
	store    PersistenceStore
	observer Observer
	clock    Clock
	log      *logger.Logger
	msgs     Messages

	sink       errorSink
	cascade    *Cascade
	presenter  *Presenter
	delivery   *Delivery
	dispatcher *Dispatcher
	media      *media
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Channel == nil:
		return nil, errors.New("conversation: channel is required")
	case deps.NLP == nil:
		return nil, errors.New("conversation: nlp engine is required")
	case deps.Content == nil:
		return nil, errors.New("conversation: content store is required")
	case deps.Store == nil:
		return nil, errors.New("conversation: persistence store is required")
	case deps.Cache == nil:
		return nil, errors.New("conversation: cache is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if opts.Messages == (Messages{}) {
		opts.Messages = DefaultMessages()
	}
	if opts.Pick == nil {
		opts.Pick = defaultPick
	}

	log := deps.Logger.With(logger.Component("conversation"))
	sink := errorSink{store: deps.Store, log: log}
	cascade := NewCascade(deps.Store, deps.Content, deps.Cache)
	presenter := &Presenter{
		channel: deps.Channel,
		store:   deps.Store,
		nlp:     deps.NLP,
		cascade: cascade,
		msgs:    opts.Messages,
		sink:    sink,
	}
	delivery := &Delivery{
		channel:   deps.Channel,
		content:   deps.Content,
		store:     deps.Store,
		presenter: presenter,
		sink:      sink,
		observer:  deps.Observer,
		log:       log,
	}

	return &Orchestrator{
		channel:    deps.Channel,
		nlp:        deps.NLP,
		store:      deps.Store,
		observer:   deps.Observer,
		clock:      deps.Clock,
		log:        log,
		msgs:       opts.Messages,
		sink:       sink,
		cascade:    cascade,
		presenter:  presenter,
		delivery:   delivery,
		dispatcher: newDispatcher(deps.Store, cascade, presenter, delivery, sink, log),
		media: &media{
			folder:  opts.MediaFolder,
			content: deps.Content,
			cache:   deps.Cache,
			channel: deps.Channel,
			pick:    opts.Pick,
		},
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Turns
// ─────────────────────────────────────────────────────────────────────────────

// HandleText runs a full turn for a free-text message.
func (o *Orchestrator) HandleText(ctx context.Context, userID int64, text string) {
	o.turn(ctx, userID, "text", func(ctx context.Context, u *user.User) error {
		return o.ReceiveMessage(ctx, u, text)
	})
}

// HandlePayload runs a full turn for a button payload.
func (o *Orchestrator) HandlePayload(ctx context.Context, userID int64, payload string) {
	o.turn(ctx, userID, "payload", func(ctx context.Context, u *user.User) error {
		return o.ReceivePayload(ctx, u, payload)
	})
}

func (o *Orchestrator) turn(ctx context.Context, userID int64, kind string, fn func(context.Context, *user.User) error) {
	log := o.log.WithRequestID(uuid.NewString()).With(logger.UserID(userID), logger.String("event", kind))
	ctx = logger.WithContext(ctx, log)
	started := o.clock()

	u, err := o.StartInteraction(ctx, userID)
	if err != nil {
		o.sink.internal(ctx, "PersistenceStore", err)
		if serr := o.channel.SendText(ctx, userID, o.msgs.Fallback, false); serr != nil {
			o.sink.internal(ctx, "MessageChannel", serr)
		}
		return
	}

	o.settle(ctx, u, fn(ctx, u))

	if err := o.EndInteraction(ctx, u); err != nil {
		o.sink.internal(ctx, "PersistenceStore", err)
	}
	log.Debug("turn finished", logger.Stage(u.Stage().String()), logger.Latency(o.clock().Sub(started)))
}

// settle records a turn failure and answers the user when nothing else did.
func (o *Orchestrator) settle(ctx context.Context, u *user.User, err error) {
	if err == nil {
		return
	}
	if !isRecorded(err) {
		o.sink.user(ctx, u.ID, "Orchestrator", err)
	}
	if !u.Valid || isAnswered(err) {
		return
	}
	if serr := o.channel.SendText(ctx, u.ID, o.msgs.Fallback, false); serr != nil {
		o.sink.internal(ctx, "MessageChannel", serr)
	}
}

// StartInteraction shows the typing indicator and loads the user, creating
// and greeting them on first contact.
func (o *Orchestrator) StartInteraction(ctx context.Context, userID int64) (*user.User, error) {
	if err := o.channel.StartInteraction(ctx, userID); err != nil {
		o.sink.user(ctx, userID, "MessageChannel", err)
	}

	u, err := o.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, shared.Internal("orchestrator", "StartInteraction", "failed to load user", err)
	}
	if u != nil {
		return u, nil
	}
	return o.createUser(ctx, userID)
}

func (o *Orchestrator) createUser(ctx context.Context, userID int64) (*user.User, error) {
	u := user.New(userID, o.clock())
	if err := o.store.CreateUser(ctx, u); err != nil {
		return nil, shared.Internal("orchestrator", "CreateUser", "failed to create user", err)
	}

	if err := o.channel.SendText(ctx, userID, o.msgs.Greeting, false); err != nil {
		o.sink.user(ctx, userID, "MessageChannel", err)
		return u, nil
	}
	if err := o.media.sendWelcome(ctx, userID); err != nil {
		o.sink.user(ctx, userID, "MessageChannel", err)
	}
	return u, nil
}

// EndInteraction persists the user's selection and counters.
func (o *Orchestrator) EndInteraction(ctx context.Context, u *user.User) error {
	u.Touch(o.clock())
	if err := o.store.UpdateUser(ctx, u); err != nil {
		return shared.Internal("orchestrator", "EndInteraction", "failed to update user", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Inbound events
// ─────────────────────────────────────────────────────────────────────────────

// ReceivePayload parses and executes a button payload.
func (o *Orchestrator) ReceivePayload(ctx context.Context, u *user.User, payload string) error {
	if !u.Valid {
		return shared.Resolution("orchestrator", "ReceivePayload", "user is not valid")
	}
	command, arg, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	return o.dispatcher.Execute(ctx, u, command, Args{Raw: arg})
}

// ReceiveMessage resolves free text through the course, folder and file
// stages in order, then falls back to the NLU engine.
//
// A stage that yields several candidates answers the turn with them. A stage
// that yields exactly one narrows the selection and lets the next stage
// refine it. A failing stage is logged and skipped.
func (o *Orchestrator) ReceiveMessage(ctx context.Context, u *user.User, text string) error {
	if !u.Valid {
		return shared.Resolution("orchestrator", "ReceiveMessage", "user is not valid")
	}

	var narrowedCourse, narrowedFolder bool

	courses, err := o.cascade.DetectCourses(ctx, u, text)
	o.observer.CascadeResolved("courses", len(courses))
	switch {
	case err != nil:
		o.sink.internal(ctx, "PersistenceStore", err)
	case len(courses) > 1:
		return o.presenter.sendCourses(ctx, u, courses)
	case len(courses) == 1:
		if err := u.SetCurso(courses[0].Codigo); err != nil {
			o.sink.user(ctx, u.ID, "Selection", err)
		} else {
			narrowedCourse = true
		}
	}

	folders, err := o.cascade.DetectFolders(ctx, u, text)
	o.observer.CascadeResolved("folders", len(folders))
	switch {
	case err != nil:
		o.sink.internal(ctx, "ContentStore", err)
	case len(folders) > 1:
		return o.presenter.sendFolders(ctx, u, folders)
	case len(folders) == 1:
		if err := u.SetCarpeta(folders[0]); err != nil {
			o.sink.user(ctx, u.ID, "Selection", err)
		} else {
			narrowedFolder = true
		}
	}

	files, err := o.cascade.DetectFiles(ctx, u, text)
	o.observer.CascadeResolved("files", len(files))
	switch {
	case err != nil:
		o.sink.internal(ctx, "ContentStore", err)
	case len(files) > 0:
		return o.delivery.SendFiles(ctx, u, files)
	}

	switch {
	case narrowedFolder:
		return o.presenter.sendAvailableFiles(ctx, u)
	case narrowedCourse:
		return o.presenter.sendAvailableFolders(ctx, u)
	}

	return o.fallback(ctx, u, text)
}

// fallback hands the text to the NLU engine.
func (o *Orchestrator) fallback(ctx context.Context, u *user.User, text string) error {
	intent, err := o.nlp.ProcessText(ctx, sessionID(u.ID), text)
	if err == nil {
		o.observer.NLPFallback(false)
		if len(intent.Payload) > 0 {
			return o.processIntentPayload(ctx, u, intent)
		}
		if serr := o.channel.SendTextWithURLs(ctx, u.ID, intent.Text, false); serr != nil {
			return shared.Transport("orchestrator", "Fallback", "failed to send reply", serr)
		}
		return nil
	}

	o.observer.NLPFallback(true)
	o.sink.user(ctx, u.ID, "NLPEngine", err)
	if serr := o.channel.SendText(ctx, u.ID, o.msgs.Fallback, false); serr != nil {
		o.sink.internal(ctx, "MessageChannel", serr)
	}
	return nil
}

func sessionID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
