package bancaweb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseQuestionBank(t *testing.T) {
	bank, err := ParseQuestionBank("mascota:Firulais, ciudad:Caracas , colegio:San José,")
	require.NoError(t, err)
	require.Equal(t, 3, bank.Len())

	answer, ok := bank.Lookup("¿Cuál es el nombre de su primera MASCOTA?")
	require.True(t, ok)
	require.Equal(t, "Firulais", answer)

	answer, ok = bank.Lookup("¿En qué ciudad nació?")
	require.True(t, ok)
	require.Equal(t, "Caracas", answer)

	_, ok = bank.Lookup("¿Cuál es su comida favorita?")
	require.False(t, ok)
}

func TestParseQuestionBankRejectsMalformedEntries(t *testing.T) {
	_, err := ParseQuestionBank("mascota:Firulais, ciudad")
	require.ErrorContains(t, err, "keyword:answer")

	_, err = ParseQuestionBank(" :Firulais")
	require.ErrorContains(t, err, "empty keyword")
}

func TestParseQuestionBankEmptyConfig(t *testing.T) {
	bank, err := ParseQuestionBank("")
	require.NoError(t, err)
	require.Equal(t, 0, bank.Len())

	_, ok := bank.Lookup("¿Cuál es el nombre de su primera mascota?")
	require.False(t, ok)
}

func TestLookupNormalizesDiacriticsAndPunctuation(t *testing.T) {
	bank, err := ParseQuestionBank("región:Andes")
	require.NoError(t, err)

	answer, ok := bank.Lookup("Indique su REGIÓN, por favor")
	require.True(t, ok)
	require.Equal(t, "Andes", answer)
}

func TestLookupConfigOrderBreaksCollisions(t *testing.T) {
	bank, err := ParseQuestionBank("nombre de su mascota:Firulais, mascota:Michi")
	require.NoError(t, err)

	// both keywords match, the first configured entry wins
	answer, ok := bank.Lookup("¿Cuál es el nombre de su mascota?")
	require.True(t, ok)
	require.Equal(t, "Firulais", answer)
}

const challengePage = `<html><body><form>
<span id="ctl00_lblPregunta1">¿Cuál es el nombre de su primera mascota?</span>
<input type="text" id="ctl00_txtRespuesta1" name="ctl00$txtRespuesta1" />
<span id="ctl00_lblPregunta2">¿En qué ciudad nació?</span>
<input type="text" id="ctl00_txtRespuesta2" name="ctl00$txtRespuesta2" />
</form></body></html>`

func TestExtractChallengePairsByControlIndex(t *testing.T) {
	questions := extractChallenge(mustDoc(t, challengePage))
	want := []challengeQuestion{
		{Prompt: "¿Cuál es el nombre de su primera mascota?", Field: "ctl00$txtRespuesta1"},
		{Prompt: "¿En qué ciudad nació?", Field: "ctl00$txtRespuesta2"},
	}
	if diff := cmp.Diff(want, questions); diff != "" {
		t.Fatalf("challenge mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractChallengePairsByOrderWithoutIndexes(t *testing.T) {
	questions := extractChallenge(mustDoc(t, `<html><body><form>
<label id="lblPreguntaUno">Primera pregunta</label>
<input type="text" id="txtRespuestaUno" name="respuestaUno" />
<label id="lblPreguntaDos">Segunda pregunta</label>
<input type="text" id="txtRespuestaDos" name="respuestaDos" />
</form></body></html>`))

	require.Len(t, questions, 2)
	require.Equal(t, "respuestaUno", questions[0].Field)
	require.Equal(t, "respuestaDos", questions[1].Field)
}

func TestResolveChallenge(t *testing.T) {
	bank, err := ParseQuestionBank("mascota:Firulais, ciudad:Caracas")
	require.NoError(t, err)

	answers, unmatched := resolveChallenge(bank, []challengeQuestion{
		{Prompt: "¿Cuál es el nombre de su primera mascota?", Field: "r1"},
		{Prompt: "¿Cuál es su comida favorita?", Field: "r2"},
		{Prompt: "¿En qué ciudad nació?", Field: "r3"},
	})

	require.Equal(t, map[string]string{"r1": "Firulais", "r3": "Caracas"}, answers)
	require.Equal(t, []string{"¿Cuál es su comida favorita?"}, unmatched)
}
