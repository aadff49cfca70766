package bancaweb

// Paths and markers of the portal's WebForms pages.
const (
	loginPath = "/Login.aspx"
	homePath  = "/Inicio.aspx"

	// the security challenge page is the only step recognizable from
	// its URL alone
	challengeUrlMarker = "preguntas"
)

// CSS selectors for the portal markup. Control ids shift between
// portal releases, the [id*=] forms survive the prefix churn.
const (
	SelectorUserInput   = "input[id*=txtUsuario]"
	SelectorSecretInput = "input[type=password], input[id*=txtClave]"
	SelectorSubmit      = "input[type=submit], input[type=image]"

	SelectorQuestionPrompt = "span[id*=Pregunta], label[id*=Pregunta]"
	SelectorAnswerInput    = "input[id*=Respuesta]"

	SelectorLogoutLink = "a[href*='Logout.aspx'], a[id*=lnkSalir], a[id*=lnkCerrar]"

	SelectorErrorMessage = "span[id*=lblMensaje], span[id*=lblError], div[id*=lblMensaje]"
	SelectorErrorCode    = "span[id*=lblCodigo]"
	SelectorErrorServer  = "span[id*=lblServidor]"

	SelectorPagerNext = "a[id*=lnkSiguiente], a[id*=Siguiente], input[id*=btnSiguiente]"
)

// Phrase tables, matched through textutil.Normalize so accents and
// punctuation never matter.
var (
	activeSessionPhrases = []string{
		"ya posee una sesion activa",
		"sesion abierta",
		"existe una sesion activa",
	}

	credentialRejectedPhrases = []string{
		"usuario o clave incorrect",
		"clave incorrecta",
		"usuario incorrecto",
		"datos de acceso incorrectos",
		"usuario bloqueado",
		"usuario suspendido",
	}

	transientPlatformPhrases = []string{
		"intente nuevamente",
		"intente mas tarde",
		"servicio no disponible",
		"en este momento no podemos",
		"fuera de servicio",
		"no puede ser procesada",
	}

	noMovementsPhrases = []string{
		"no se encontraron movimientos",
		"no existen movimientos",
		"no posee movimientos",
		"sin movimientos",
	}
)

// Keyword priority tables for postback discovery. Order matters:
// earlier keywords dominate the score.
var (
	movementKeywords = []string{
		"movimiento", "transaccion", "consulta", "estado", "cuenta", "historico",
	}

	accountListKeywords = []string{
		"cuenta", "posicion", "producto", "saldo",
	}

	continueKeywords = []string{
		"continuar", "aceptar", "ingresar", "entrar",
	}
)
