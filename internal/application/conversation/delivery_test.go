package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estudia/material-bot/internal/domain/catalog"
	"github.com/estudia/material-bot/internal/domain/shared"
	"github.com/estudia/material-bot/internal/domain/user"
)

func examFiles() []*catalog.Material {
	return []*catalog.Material{
		{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile, Page: 3},
		{Key: "FIIS/MA101/examenes/parcial-2019.pdf", ShortName: "parcial-2019", Type: catalog.TypeFile, Page: 1},
		{Key: "FIIS/MA101/examenes/parcial-2019-b.pdf", ShortName: "parcial-2019", Type: catalog.TypeFile, Page: 2},
	}
}

func completeUser(f *fixture) *user.User {
	return f.userAt(user.Selection{Especialidad: "SIS", Ciclo: 1, Curso: "MA101", Carpeta: "examenes"})
}

func TestSendFiles_AllSucceed(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)
	files := examFiles()

	err := f.orch.delivery.SendFiles(context.Background(), u, files)
	require.NoError(t, err)

	assert.Equal(t, user.Requests{Successful: 1, Total: 1}, u.Requests)

	batch := f.ch.sent()[0]
	require.Equal(t, "attachments", batch.kind)
	require.Len(t, batch.attachments, 3)
	// Page order.
	assert.Equal(t, "https://cdn.test/FIIS/MA101/examenes/parcial-2019.pdf", batch.attachments[0].URL)
	assert.Equal(t, "https://cdn.test/FIIS/MA101/examenes/parcial-2019-b.pdf", batch.attachments[1].URL)
	assert.Equal(t, "https://cdn.test/FIIS/MA101/examenes/final-2019.pdf", batch.attachments[2].URL)

	for _, m := range files {
		assert.Equal(t, 1, m.SendCount, m.Key)
		assert.True(t, m.HasReuseID(), m.Key)
	}
	assert.Len(t, f.store.transactions, 3)
	assert.ElementsMatch(t, []string{files[0].Key, files[1].Key, files[2].Key}, f.store.updatedFiles)

	// The folder listing follows a successful delivery.
	assert.Equal(t, "buttons", f.ch.last(t).kind)
}

func TestSendFiles_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.ch.failAttachment = map[int]bool{1: true}
	u := completeUser(f)
	files := examFiles()

	err := f.orch.delivery.SendFiles(context.Background(), u, files)
	require.Error(t, err)
	assert.True(t, shared.IsTransport(err))
	assert.True(t, isRecorded(err))

	assert.Equal(t, user.Requests{Failed: 1, Total: 1}, u.Requests)

	var ok, failed []string
	for _, tx := range f.store.transactions {
		if tx.success {
			ok = append(ok, tx.key)
		} else {
			failed = append(failed, tx.key)
		}
	}
	assert.ElementsMatch(t, []string{files[1].Key, files[0].Key}, ok)
	assert.Equal(t, []string{files[2].Key}, failed)

	assert.ElementsMatch(t, []string{files[1].Key, files[0].Key}, f.store.updatedFiles)
	assert.False(t, files[2].HasReuseID())
	assert.Zero(t, files[2].SendCount)

	retry := f.ch.last(t)
	assert.Equal(t, DefaultMessages().RetryPrompt, retry.text)
	assert.Equal(t, []string{"SetArchivo:final-2019", "SetCarpeta:examenes"}, buttonPayloads(retry))
}

func TestSendFiles_ReuseIDIsWriteOnce(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)
	m := &catalog.Material{Key: "FIIS/MA101/examenes/final-2019.pdf", ShortName: "final-2019", Type: catalog.TypeFile, ReuseID: "cached", SendCount: 4}

	require.NoError(t, f.orch.delivery.SendFiles(context.Background(), u, []*catalog.Material{m}))

	batch := f.ch.sent()[0]
	assert.Equal(t, "cached", batch.attachments[0].ReuseID)
	assert.Empty(t, batch.attachments[0].URL)
	assert.Equal(t, "cached", m.ReuseID)
	assert.Equal(t, 5, m.SendCount)
}

func TestSendFiles_URLFailureSkipsChannel(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)
	files := examFiles()
	f.content.badURLs = map[string]bool{files[0].Key: true}

	err := f.orch.delivery.SendFiles(context.Background(), u, files)
	require.Error(t, err)

	batch := f.ch.sent()[0]
	assert.Len(t, batch.attachments, 2)
	assert.Equal(t, 1, u.Requests.Failed)
}

func TestSendFiles_ChannelDown(t *testing.T) {
	f := newFixture(t)
	f.ch.failBatch = errors.New("connection reset")
	u := completeUser(f)

	err := f.orch.delivery.SendFiles(context.Background(), u, examFiles())
	require.Error(t, err)
	assert.Equal(t, user.Requests{Failed: 1, Total: 1}, u.Requests)
	assert.Empty(t, f.store.updatedFiles)
	for _, tx := range f.store.transactions {
		assert.False(t, tx.success)
	}
}

func TestSendFiles_Empty(t *testing.T) {
	f := newFixture(t)
	u := completeUser(f)

	err := f.orch.delivery.SendFiles(context.Background(), u, nil)
	require.Error(t, err)
	assert.True(t, shared.IsResolution(err))
	assert.Empty(t, f.ch.sent())
	assert.Zero(t, u.Requests.Total)
	assert.Len(t, f.store.userErrors, 1)
}
