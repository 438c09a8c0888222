package conversation

import "strings"

// Messages is the user-facing copy. Templates replace *** with a name,
// the same placeholder the NLU agent uses in its own replies.
type Messages struct {
	Greeting           string
	SelectFacultad     string
	SelectEspecialidad string
	SelectCiclo        string
	FoldersTemplate    string
	FilesTemplate      string
	NoCourses          string
	NoFolders          string
	NoFiles            string
	RetryPrompt        string
	RetryYes           string
	RetryNo            string
	Fallback           string

	// Phrases sent to the NLU agent to fetch the folder and file intros.
	// Empty disables the lookup and the templates above are used.
	FoldersPhrase string
	FilesPhrase   string
}

// DefaultMessages returns the Spanish copy the bot ships with.
func DefaultMessages() Messages {
	return Messages{
		Greeting:           "¡Hola! Soy tu asistente de material de estudio. Te ayudaré a encontrar lo que necesitas.",
		SelectFacultad:     "Selecciona una Facultad",
		SelectEspecialidad: "Selecciona una especialidad",
		SelectCiclo:        "Selecciona un ciclo",
		FoldersTemplate:    "Estas son las carpetas de ***:",
		FilesTemplate:      "Estos son los archivos de ***:",
		NoCourses:          "No encontré cursos para tu ciclo.",
		NoFolders:          "No hay carpetas disponibles, considera donar tu material de estudio en este curso.",
		NoFiles:            "No hay archivos disponibles en esta carpeta.",
		RetryPrompt:        "Error enviando. ¿Quieres intentarlo de nuevo?",
		RetryYes:           "Sí",
		RetryNo:            "No",
		Fallback:           "No puedo brindarte una respuesta fluida.",
		FoldersPhrase:      "Quisiera que me muestres las carpetas",
		FilesPhrase:        "Quisiera que me muestres los archivos",
	}
}

func fillTemplate(tpl, name string) string {
	return strings.Replace(tpl, "***", name, 1)
}
