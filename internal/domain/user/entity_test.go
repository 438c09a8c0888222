package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estudia/material-bot/internal/domain/shared"
)

func completeUser() *User {
	u := New(7, time.Unix(0, 0))
	u.Selection = Selection{Especialidad: "ING-SIS", Ciclo: 3, Curso: "MA101", Carpeta: "examenes"}
	return u
}

func TestStage(t *testing.T) {
	tests := []struct {
		sel  Selection
		want Stage
	}{
		{Selection{}, StageNoEspecialidad},
		{Selection{Especialidad: "E"}, StageNoCiclo},
		{Selection{Especialidad: "E", Ciclo: 1}, StageNoCurso},
		{Selection{Especialidad: "E", Ciclo: 1, Curso: "C"}, StageNoCarpeta},
		{Selection{Especialidad: "E", Ciclo: 1, Curso: "C", Carpeta: "F"}, StageComplete},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Stage())
		})
	}
}

func TestSetEspecialidad_ClearsDownstream(t *testing.T) {
	u := completeUser()
	u.SetEspecialidad("ING-CIV")

	assert.Equal(t, Selection{Especialidad: "ING-CIV"}, u.Selection)
}

func TestSetCiclo_ClearsCursoAndCarpeta(t *testing.T) {
	u := completeUser()
	require.NoError(t, u.SetCiclo(4))

	assert.Equal(t, Selection{Especialidad: "ING-SIS", Ciclo: 4}, u.Selection)
}

func TestSetCurso_ClearsCarpeta(t *testing.T) {
	u := completeUser()
	require.NoError(t, u.SetCurso("FI201"))

	assert.Equal(t, "FI201", u.Selection.Curso)
	assert.Empty(t, u.Selection.Carpeta)
}

func TestPrerequisiteRejections_LeaveSelectionUnchanged(t *testing.T) {
	t.Run("ciclo without especialidad", func(t *testing.T) {
		u := New(1, time.Now())
		before := u.Selection

		err := u.SetCiclo(2)
		assert.True(t, shared.IsPrerequisite(err))
		assert.Equal(t, before, u.Selection)
	})

	t.Run("curso without ciclo", func(t *testing.T) {
		u := New(1, time.Now())
		u.SetEspecialidad("E")
		before := u.Selection

		err := u.SetCurso("MA101")
		assert.True(t, shared.IsPrerequisite(err))
		assert.Equal(t, before, u.Selection)
	})

	t.Run("carpeta without curso", func(t *testing.T) {
		u := New(1, time.Now())
		u.SetEspecialidad("E")
		require.NoError(t, u.SetCiclo(1))
		before := u.Selection

		err := u.SetCarpeta("practicas")
		assert.True(t, shared.IsPrerequisite(err))
		assert.Equal(t, before, u.Selection)
	})
}

func TestSetCarpeta_EmptyResetsEverything(t *testing.T) {
	u := completeUser()

	err := u.SetCarpeta("")
	assert.True(t, shared.IsResolution(err))
	assert.Equal(t, Selection{}, u.Selection)
}

func TestResetCiclo(t *testing.T) {
	u := completeUser()
	u.ResetCiclo()

	assert.Equal(t, Selection{Especialidad: "ING-SIS"}, u.Selection)
	assert.False(t, u.CanRequestCourses())
}

func TestEligibility(t *testing.T) {
	u := completeUser()
	assert.True(t, u.CanRequestCourses())
	assert.True(t, u.CanRequestFolders())
	assert.True(t, u.CanRequestFiles())

	u.Selection.Carpeta = ""
	assert.True(t, u.CanRequestFolders())
	assert.False(t, u.CanRequestFiles())
}

func TestRequestCounters(t *testing.T) {
	u := New(1, time.Now())
	u.RecordRequest()
	u.RecordOutcome(false)
	u.RecordRequest()
	u.RecordOutcome(true)

	assert.Equal(t, Requests{Successful: 1, Failed: 1, Total: 2}, u.Requests)
}
