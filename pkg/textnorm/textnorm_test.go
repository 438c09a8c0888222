package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "calculo diferencial", Fold("Cálculo Diferencial"))
	assert.Equal(t, "pinguino ano", Fold("PINGÜINO AÑO"))
	assert.Equal(t, "", Fold(""))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"quiero", "fisica", "ii", "ya"}, Words("¿Quiero Física II, ya?"))
}

func TestLongWords(t *testing.T) {
	assert.Equal(t, []string{"quiero", "calculo"}, LongWords("quiero el cálculo I", 5))
	assert.Empty(t, LongWords("hola", 5))
}
