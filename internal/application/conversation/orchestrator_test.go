package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/user"
)

func kinds(msgs []sentMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.kind
	}
	return out
}

func TestNewOrchestrator_RequiresCapabilities(t *testing.T) {
	_, err := NewOrchestrator(Deps{}, Options{})
	assert.Error(t, err)
}

func TestHandleText_FirstContactGreets(t *testing.T) {
	f := newFixture(t)

	f.orch.HandleText(context.Background(), 7, "hola")

	msgs := f.ch.sent()
	require.Equal(t, []string{"text", "attachment", "text"}, kinds(msgs))
	assert.Equal(t, DefaultMessages().Greeting, msgs[0].text)
	assert.Equal(t, "https://cdn.test/media/welcome/hola.png", msgs[1].attachments[0].URL)
	assert.Equal(t, DefaultMessages().Fallback, msgs[2].text)

	u := f.store.users[7]
	require.NotNil(t, u)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), u.LastInteraction)
}

func TestHandlePayload_InvalidUserIsSilent(t *testing.T) {
	f := newFixture(t)
	u := f.userAt(user.Selection{})
	u.Valid = false

	f.orch.HandlePayload(context.Background(), u.ID, "Empezar")

	assert.Empty(t, f.ch.sent())
	assert.Len(t, f.store.userErrors, 1)
}

func TestHandlePayload_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)

	f.orch.HandlePayload(context.Background(), u.ID, "Bailar:salsa")

	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
	assert.Equal(t, "examenes", f.store.users[u.ID].Selection.Carpeta)
	assert.Len(t, f.store.userErrors, 1, "error must be recorded once")
}

func TestHandlePayload_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)

	f.orch.HandlePayload(context.Background(), u.ID, "SetArchivo:a:b")

	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
	assert.Len(t, f.store.userErrors, 1)
}

func TestHandlePayload_PrerequisiteSendsOnlyPrompt(t *testing.T) {
	f := newFixture(t)
	u := f.userAt(user.Selection{})

	f.orch.HandlePayload(context.Background(), u.ID, "SetCarpeta:examenes")

	msgs := f.ch.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, DefaultMessages().SelectFacultad, msgs[0].text)
}

func TestHandleText_UserLoadFailureSendsFallback(t *testing.T) {
	f := newFixture(t)
	f.store.getUserErr = errors.New("db down")

	f.orch.HandleText(context.Background(), 5, "hola")

	msgs := f.ch.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, DefaultMessages().Fallback, msgs[0].text)
	assert.NotEmpty(t, f.store.internalErrs)
}

func TestHandleText_NLPReplySendFailureSendsFallback(t *testing.T) {
	f := newFixture(t)
	f.ch.failURLs = errors.New("connection reset")
	f.nlp.err = nil
	f.nlp.intent = Intent{Text: "mira https://x.test"}
	u := f.userAt(user.Selection{})

	f.orch.HandleText(context.Background(), u.ID, "hola que tal")

	msgs := f.ch.sent()
	require.NotEmpty(t, msgs)
	assert.Equal(t, DefaultMessages().Fallback, msgs[len(msgs)-1].text)
	assert.Len(t, f.store.userErrors, 1)
}

func TestHandleText_PresenterSendFailureSendsFallback(t *testing.T) {
	f := newFixture(t)
	f.ch.failButtons = errors.New("connection reset")
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile})
	u := completeUser(f)

	f.orch.HandlePayload(context.Background(), u.ID, "SetArchivo:final-2019")

	assert.Equal(t, []string{"attachments", "text"}, kinds(f.ch.sent()))
	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
	assert.Equal(t, 1, f.store.users[u.ID].Requests.Successful)
}

func TestHandlePayload_DeliveryRetryPromptIsFinal(t *testing.T) {
	f := newFixture(t)
	f.ch.failBatch = errors.New("connection reset")
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile})
	u := completeUser(f)

	f.orch.HandlePayload(context.Background(), u.ID, "SetArchivo:final-2019")

	msg := f.ch.last(t)
	assert.Equal(t, DefaultMessages().RetryPrompt, msg.text)
	assert.Len(t, f.store.userErrors, 1)
}

func TestHandlePayload_DeliveryRetryPromptFailureSendsFallback(t *testing.T) {
	f := newFixture(t)
	f.ch.failBatch = errors.New("connection reset")
	f.ch.failButtons = errors.New("connection reset")
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile})
	u := completeUser(f)

	f.orch.HandlePayload(context.Background(), u.ID, "SetArchivo:final-2019")

	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
}

func TestHandlePayload_PersistsSelection(t *testing.T) {
	f := newFixture(t)
	u := f.userAt(user.Selection{Especialidad: "SIS"})

	f.orch.HandlePayload(context.Background(), u.ID, "SetCiclo:Segundo")

	assert.Equal(t, 2, f.store.users[u.ID].Selection.Ciclo)
}

func TestReceiveMessage_MultipleCourses(t *testing.T) {
	f := newFixture(t)
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "calculo"))

	msg := f.ch.last(t)
	require.Equal(t, "options", msg.kind)
	assert.Len(t, msg.options, 2)
	assert.Empty(t, u.Selection.Curso)
}

func TestReceiveMessage_SingleCourseNarrows(t *testing.T) {
	f := newFixture(t)
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "calculo ii"))

	assert.Equal(t, "MA102", u.Selection.Curso)
	// MA102 has no folders in the bucket.
	assert.Equal(t, DefaultMessages().NoFolders, f.ch.last(t).text)
}

func TestReceiveMessage_SingleFolderListsFiles(t *testing.T) {
	f := newFixture(t)
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/parcial-2019.pdf", ShortName: "parcial-2019", Type: catalog.TypeFile})
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile})
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1, Curso: "MA101"})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "examenes"))

	assert.Equal(t, "examenes", u.Selection.Carpeta)
	msg := f.ch.last(t)
	assert.Equal(t, "Estos son los archivos de examenes:", msg.text)
	assert.ElementsMatch(t, []string{"SetArchivo:parcial-2019", "SetArchivo:final-2019"}, buttonPayloads(msg))
}

func TestReceiveMessage_FileMatchDelivers(t *testing.T) {
	f := newFixture(t)
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/parcial-2019.pdf", ShortName: "parcial-2019", Type: catalog.TypeFile})
	f.store.addFile(&catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile})
	u := completeUser(f)

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "el parcial 2019"))

	assert.Equal(t, "attachments", f.ch.sent()[0].kind)
	assert.Equal(t, 1, u.Requests.Total)
}

func TestReceiveMessage_NLPReply(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{Text: "Revisa https://example.org"}
	u := f.userAt(user.Selection{})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "ayuda"))

	msg := f.ch.last(t)
	assert.Equal(t, "text_urls", msg.kind)
	assert.Equal(t, "Revisa https://example.org", msg.text)
	assert.Equal(t, []string{"ayuda"}, f.nlp.texts)
}

func TestReceiveMessage_NLPCommand(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{
		Payload:    map[string]string{"comando": "SetFacultad"},
		Parameters: map[string]string{"facultad": "FIIS"},
	}
	u := f.userAt(user.Selection{})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "soy de la FIIS"))
	assert.Equal(t, []string{"SetEspecialidad:SIS", "SetEspecialidad:IND"}, buttonPayloads(f.ch.last(t)))
}

func TestReceiveMessage_MemePetition(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{Text: "Ahí va uno", Payload: map[string]string{"peticion": "Meme"}}
	u := f.userAt(user.Selection{})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "cuéntame un meme"))

	msgs := f.ch.sent()
	require.Equal(t, []string{"text", "attachment"}, kinds(msgs))
	assert.Equal(t, "Ahí va uno", msgs[0].text)
	assert.Equal(t, "https://cdn.test/media/memes/dos.jpg", msgs[1].attachments[0].URL)
	assert.Equal(t, catalog.TypeImage, msgs[1].attachments[0].Type)
}

func TestReceiveMessage_UnhandledIntentPayload(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{Payload: map[string]string{"otro": "x"}}
	u := f.userAt(user.Selection{})

	f.orch.HandleText(context.Background(), u.ID, "algo")
	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
}

func TestReceiveMessage_CourseLookupFailureFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.store.probableErr = assert.AnError
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1})

	require.NoError(t, f.orch.ReceiveMessage(context.Background(), u, "calculo"))
	assert.Equal(t, DefaultMessages().Fallback, f.ch.last(t).text)
	assert.Len(t, f.store.internalErrs, 1)
}

func TestFolderIntro_FromNLP(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{Text: "Mira las carpetas de *** que tengo"}
	f.orch.presenter.msgs.FoldersPhrase = DefaultMessages().FoldersPhrase
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1})

	f.orch.HandlePayload(context.Background(), u.ID, "SetCurso:MA101")

	assert.Equal(t, "Mira las carpetas de MA101 que tengo", f.ch.last(t).text)
	assert.Equal(t, []string{DefaultMessages().FoldersPhrase}, f.nlp.texts)
}

func TestFolderIntro_NoPlaceholderUsesTemplate(t *testing.T) {
	f := newFixture(t)
	f.nlp.err = nil
	f.nlp.intent = Intent{Text: "No entendí"}
	f.orch.presenter.msgs.FoldersPhrase = DefaultMessages().FoldersPhrase
	u := f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1})

	f.orch.HandlePayload(context.Background(), u.ID, "SetCurso:MA101")

	assert.Equal(t, "Estas son las carpetas de MA101:", f.ch.last(t).text)
}
