package bancaweb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankfeed-backend/lib/telemetry"
)

// compatMux interprets Go 1.22 style "METHOD /path" patterns on top of
// a plain ServeMux, because this repo builds with a go1.21 toolchain
// whose ServeMux predates method patterns: one dispatcher per path
// picks the handler by request method, HEAD falls back to GET and an
// unregistered method gets a 405 like the 1.22 matcher gives.
type compatMux struct {
	mux    *http.ServeMux
	routes map[string]map[string]http.HandlerFunc
}

func newCompatMux(mux *http.ServeMux) *compatMux {
	return &compatMux{mux: mux, routes: map[string]map[string]http.HandlerFunc{}}
}

func (m *compatMux) HandleFunc(pattern string, handler http.HandlerFunc) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		m.mux.HandleFunc(pattern, handler)
		return
	}
	byMethod, seen := m.routes[path]
	if !seen {
		byMethod = map[string]http.HandlerFunc{}
		m.routes[path] = byMethod
		m.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			wanted := r.Method
			if wanted == http.MethodHead {
				wanted = http.MethodGet
			}
			if h, ok := byMethod[wanted]; ok {
				h(w, r)
				return
			}
			w.WriteHeader(http.StatusMethodNotAllowed)
		})
	}
	byMethod[method] = handler
}

// fakePortal imitates the portal's WebForms conversation: per-page
// viewstates that must round-trip untouched, a staged login dance
// tracked through a session cookie and redirect-after-post everywhere.
type fakePortal struct {
	t      *testing.T
	server *httptest.Server

	activeSession bool
	noMovements   bool
	// pagerBreaks makes the third listing page render a platform error
	pagerBreaks bool

	mu            sync.Mutex
	vsCounter     int
	lastViewState string
	loginPosts    int
	pagerPosts    int
	logouts       int
}

func newFakePortal(t *testing.T) *fakePortal {
	p := &fakePortal{t: t}

	rawMux := http.NewServeMux()
	mux := newCompatMux(rawMux)
	mux.HandleFunc("GET /Login.aspx", p.getLogin)
	mux.HandleFunc("POST /Login.aspx", p.postLogin)
	mux.HandleFunc("GET /PreguntasSeguridad.aspx", p.getChallenge)
	mux.HandleFunc("POST /PreguntasSeguridad.aspx", p.postChallenge)
	mux.HandleFunc("GET /Clave.aspx", p.getSecret)
	mux.HandleFunc("POST /Clave.aspx", p.postSecret)
	mux.HandleFunc("GET /Aviso.aspx", p.getWarning)
	mux.HandleFunc("POST /Aviso.aspx", p.postWarning)
	mux.HandleFunc("GET /Inicio.aspx", p.getHome)
	mux.HandleFunc("POST /Inicio.aspx", p.postHome)
	mux.HandleFunc("GET /Movimientos.aspx", p.getMovements)
	mux.HandleFunc("POST /Movimientos.aspx", p.postMovements)
	mux.HandleFunc("GET /Logout.aspx", p.getLogout)

	p.server = httptest.NewServer(rawMux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) client(t *testing.T, username string) *Client {
	client, err := New(Config{
		BaseUrl:           p.server.URL,
		Timeout:           5 * time.Second,
		Credentials:       Credentials{Username: username, Secret: "s3creta"},
		SecurityQuestions: "mascota:Firulais, ciudad:Caracas",
		Login:             LoginSettings{MaxAttempts: 1, RetryDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func (p *fakePortal) render(w http.ResponseWriter, action, body string) {
	p.mu.Lock()
	p.vsCounter++
	p.lastViewState = fmt.Sprintf("dDwtMTM4MTM2NDc0Njt0PDtsPGk8MT47PjtsPHQ8cGFnZV8lMDRk%04d==", p.vsCounter)
	viewState := p.lastViewState
	p.mu.Unlock()

	fmt.Fprintf(w, `<html><body><form method="post" action="%s" id="form1">
<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="%s" />
<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="CA0B0334" />
<input type="hidden" name="__EVENTVALIDATION" id="__EVENTVALIDATION" value="/wEWAgLB37uOCgKAwLnZDg==" />
<input type="hidden" name="__EVENTTARGET" id="__EVENTTARGET" value="" />
<input type="hidden" name="__EVENTARGUMENT" id="__EVENTARGUMENT" value="" />
%s
</form></body></html>`, action, viewState, body)
}

// requireFreshViewState fails the exchange when the posted form does not
// carry the viewstate of the page rendered right before it.
func (p *fakePortal) requireFreshViewState(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	want := p.lastViewState
	p.mu.Unlock()
	if want == "" || r.FormValue("__VIEWSTATE") != want {
		p.t.Errorf("POST %s carried a stale viewstate", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}
	return true
}

func stageCookie(r *http.Request) string {
	cookie, err := r.Cookie("portal")
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setStage(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{Name: "portal", Value: value, Path: "/"})
}

const loginForm = `<span id="lblTitulo">Banca en Línea</span>
<input type="text" id="ctl00_txtUsuario" name="ctl00$txtUsuario" />
<input type="submit" name="ctl00$btnIngresar" value="Ingresar" />`

func (p *fakePortal) getLogin(w http.ResponseWriter, r *http.Request) {
	p.render(w, "/Login.aspx", loginForm)
}

func (p *fakePortal) postLogin(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	p.mu.Lock()
	p.loginPosts++
	p.mu.Unlock()

	if r.FormValue("ctl00$txtUsuario") != "carlos" {
		p.render(w, "/Login.aspx",
			`<span id="ctl00_lblMensaje">Usuario o clave incorrecta</span>`+loginForm)
		return
	}
	setStage(w, "user")
	http.Redirect(w, r, "/PreguntasSeguridad.aspx", http.StatusFound)
}

func (p *fakePortal) getChallenge(w http.ResponseWriter, r *http.Request) {
	if stageCookie(r) != "user" {
		http.Redirect(w, r, "/Login.aspx", http.StatusFound)
		return
	}
	p.render(w, "/PreguntasSeguridad.aspx", `
<span id="ctl00_lblPregunta1">¿Cuál es el nombre de su primera mascota?</span>
<input type="text" id="ctl00_txtRespuesta1" name="ctl00$txtRespuesta1" />
<span id="ctl00_lblPregunta2">¿En qué ciudad nació usted?</span>
<input type="text" id="ctl00_txtRespuesta2" name="ctl00$txtRespuesta2" />
<input type="submit" name="ctl00$btnContinuar" value="Continuar" />`)
}

func (p *fakePortal) postChallenge(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	if r.FormValue("ctl00$txtRespuesta1") != "Firulais" || r.FormValue("ctl00$txtRespuesta2") != "Caracas" {
		p.render(w, "/PreguntasSeguridad.aspx",
			`<span id="ctl00_lblMensaje">Respuesta de seguridad incorrecta</span>`)
		return
	}
	setStage(w, "quiz")
	http.Redirect(w, r, "/Clave.aspx", http.StatusFound)
}

func (p *fakePortal) getSecret(w http.ResponseWriter, r *http.Request) {
	if stageCookie(r) != "quiz" {
		http.Redirect(w, r, "/Login.aspx", http.StatusFound)
		return
	}
	p.render(w, "/Clave.aspx", `
<input type="password" id="ctl00_txtClave" name="ctl00$txtClave" />
<input type="submit" name="ctl00$btnAceptar" value="Aceptar" />`)
}

func (p *fakePortal) postSecret(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	if r.FormValue("ctl00$txtClave") != "s3creta" {
		p.render(w, "/Clave.aspx", `<span id="ctl00_lblMensaje">Usuario o clave incorrecta</span>`)
		return
	}
	if p.activeSession {
		setStage(w, "warn")
		http.Redirect(w, r, "/Aviso.aspx", http.StatusFound)
		return
	}
	setStage(w, "auth")
	http.Redirect(w, r, "/Inicio.aspx", http.StatusFound)
}

func (p *fakePortal) getWarning(w http.ResponseWriter, r *http.Request) {
	if stageCookie(r) != "warn" {
		http.Redirect(w, r, "/Login.aspx", http.StatusFound)
		return
	}
	p.render(w, "/Aviso.aspx", `
<p>Ya posee una sesión activa en otro equipo. ¿Desea continuar con esta sesión?</p>
<input type="submit" name="ctl00$btnContinuar" value="Continuar" />`)
}

func (p *fakePortal) postWarning(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	setStage(w, "auth")
	http.Redirect(w, r, "/Inicio.aspx", http.StatusFound)
}

func (p *fakePortal) getHome(w http.ResponseWriter, r *http.Request) {
	if stageCookie(r) != "auth" {
		http.Redirect(w, r, "/Login.aspx", http.StatusFound)
		return
	}
	p.render(w, "/Inicio.aspx", `
<a id="ctl00_lnkSalir" href="Logout.aspx">Cerrar Sesión</a>
<table id="dgvCuentas">
<tr><th>Tipo</th><th>Número</th><th>Moneda</th><th>Disponible</th></tr>
<tr><td>Cuenta Corriente</td><td><a href="javascript:__doPostBack('dgvCuentas$ctl02$lnkCuenta','')">0102-1234-56-7890123456</a></td><td>Bs.</td><td>12.345,67</td></tr>
</table>`)
}

func (p *fakePortal) postHome(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	if r.FormValue("__EVENTTARGET") != "dgvCuentas$ctl02$lnkCuenta" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/Movimientos.aspx?pag=1", http.StatusFound)
}

func (p *fakePortal) getMovements(w http.ResponseWriter, r *http.Request) {
	if stageCookie(r) != "auth" {
		http.Redirect(w, r, "/Login.aspx", http.StatusFound)
		return
	}
	if p.noMovements {
		p.render(w, "/Movimientos.aspx",
			`<span id="ctl00_lblInfo">No se encontraron movimientos para el período seleccionado.</span>`)
		return
	}
	switch r.URL.Query().Get("pag") {
	case "3":
		if p.pagerBreaks {
			p.render(w, "/Movimientos.aspx?pag=3", `
<span id="ctl00_lblMensaje">En este momento no podemos procesar su solicitud, intente nuevamente</span>
<span id="ctl00_lblCodigo">SRV-0042</span>
<span id="ctl00_lblServidor">NODO07</span>`)
			return
		}
		p.render(w, "/Movimientos.aspx?pag=3", `
<table id="grvMovimientos">
<tr><th>Fecha</th><th>Referencia</th><th>Descripción</th><th>D/C</th><th>Monto</th><th>Saldo</th></tr>
<tr><td>15/05/2024</td><td>00123459</td><td>PAGO SERVICIO ELECTRICIDAD</td><td>D</td><td>320,00</td><td>5.929,50</td></tr>
</table>
<a id="grvMovimientos_lnkAnterior" href="javascript:__doPostBack('grvMovimientos$pager$lnkAnterior','2')">&lt; Anterior</a>`)
	case "2":
		p.render(w, "/Movimientos.aspx?pag=2", `
<table id="grvMovimientos">
<tr><th>Fecha</th><th>Referencia</th><th>Descripción</th><th>D/C</th><th>Monto</th><th>Saldo</th></tr>
<tr><td>14/05/2024</td><td>00123458</td><td>TRANSFERENCIA RECIBIDA</td><td>C</td><td>2.000,00</td><td>6.249,50</td></tr>
</table>
<a id="grvMovimientos_lnkAnterior" href="javascript:__doPostBack('grvMovimientos$pager$lnkAnterior','1')">&lt; Anterior</a>
<a id="grvMovimientos_lnkSiguiente" href="javascript:__doPostBack('grvMovimientos$pager$lnkSiguiente','3')">Siguiente &gt;</a>`)
	default:
		p.render(w, "/Movimientos.aspx?pag=1", `
<table id="grvMovimientos">
<tr><th>Fecha</th><th>Referencia</th><th>Descripción</th><th>D/C</th><th>Monto</th><th>Saldo</th></tr>
<tr><td>12/05/2024</td><td>00123456</td><td>PAGO NOMINA EMPRESA</td><td>C</td><td>1.500,00</td><td>4.500,00</td></tr>
<tr><td>13/05/2024</td><td>00123457</td><td>COMPRA POS FARMACIA</td><td>D</td><td>250,50</td><td>4.249,50</td></tr>
</table>
<a id="grvMovimientos_lnkSiguiente" href="javascript:__doPostBack('grvMovimientos$pager$lnkSiguiente','2')">Siguiente &gt;</a>`)
	}
}

func (p *fakePortal) postMovements(w http.ResponseWriter, r *http.Request) {
	if !p.requireFreshViewState(w, r) {
		return
	}
	switch r.FormValue("__EVENTTARGET") {
	case "grvMovimientos$pager$lnkSiguiente":
		p.mu.Lock()
		p.pagerPosts++
		p.mu.Unlock()
		http.Redirect(w, r, "/Movimientos.aspx?pag="+r.FormValue("__EVENTARGUMENT"), http.StatusFound)
	case "grvMovimientos$pager$lnkAnterior":
		p.t.Errorf("walker went backwards through the pager")
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (p *fakePortal) getLogout(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.logouts++
	p.mu.Unlock()
	setStage(w, "")
	http.Redirect(w, r, "/Login.aspx", http.StatusFound)
}

func (p *fakePortal) counts() (loginPosts, pagerPosts, logouts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginPosts, p.pagerPosts, p.logouts
}

func TestClientLoginFullDance(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")

	result := client.Login(context.Background())
	require.True(t, result.Success, "login failed: %s", result.Message)
	require.Nil(t, result.Error)
	loginPosts, _, _ := portal.counts()
	require.Equal(t, 1, loginPosts)
}

func TestClientLoginRejectedCredentials(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "mallory")

	result := client.Login(context.Background())
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Equal(t, ErrorKindCredentials, result.Error.Kind)
	require.False(t, result.Error.Transient)
	loginPosts, _, _ := portal.counts()
	require.Equal(t, 1, loginPosts, "credential rejections must not be retried")
}

func TestClientLoginThroughActiveSessionWarning(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	portal.activeSession = true
	client := portal.client(t, "carlos")

	result := client.Login(context.Background())
	require.True(t, result.Success, "login failed: %s", result.Message)
}

func TestClientAccounts(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	result := client.Accounts(context.Background())
	require.True(t, result.Success, result.Message)
	require.Len(t, result.Accounts, 1)
	require.Equal(t, "01021234567890123456", result.Accounts[0].Number)
	require.Equal(t, "VES", result.Accounts[0].Currency)
	require.True(t, result.Accounts[0].Balance.Equal(decimal.RequireFromString("12345.67")))
}

func TestClientAccountsBeforeLogin(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")

	result := client.Accounts(context.Background())
	require.False(t, result.Success)
	require.Equal(t, ErrorKindProtocol, result.Error.Kind)
}

func TestClientMovementsWalksThePager(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	result := client.Movements(context.Background(), "0102-1234-56-7890123456")
	require.True(t, result.Success, result.Message)
	require.Len(t, result.Movements, 4)
	_, pagerPosts, _ := portal.counts()
	require.Equal(t, 2, pagerPosts, "the last page has no next control, the walk must stop there")

	require.Equal(t, DirectionCredit, result.Movements[0].Direction)
	require.Equal(t, DirectionDebit, result.Movements[1].Direction)
	require.Equal(t, "TRANSFERENCIA RECIBIDA", result.Movements[2].Description)
	require.True(t, result.Movements[2].Balance.Valid)
	require.True(t, result.Movements[2].Balance.Decimal.Equal(decimal.RequireFromString("6249.5")))
	require.Equal(t, "PAGO SERVICIO ELECTRICIDAD", result.Movements[3].Description)
	for _, movement := range result.Movements {
		require.Equal(t, "01021234567890123456", movement.AccountNumber)
	}
}

func TestClientMovementsKeepsPagesCollectedBeforeABreakage(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	portal.pagerBreaks = true
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	result := client.Movements(context.Background(), "01021234567890123456")
	require.True(t, result.Success, "a mid-walk breakage is a partial result, not a failure")
	require.Len(t, result.Movements, 3, "pages one and two were already collected")
}

func TestClientMovementsHonorsMaxPages(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client, err := New(Config{
		BaseUrl:           portal.server.URL,
		Timeout:           5 * time.Second,
		Credentials:       Credentials{Username: "carlos", Secret: "s3creta"},
		SecurityQuestions: "mascota:Firulais, ciudad:Caracas",
		Login:             LoginSettings{MaxAttempts: 1, RetryDelay: 10 * time.Millisecond},
		MaxPages:          2,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.True(t, client.Login(context.Background()).Success)

	result := client.Movements(context.Background(), "01021234567890123456")
	require.True(t, result.Success)
	require.Len(t, result.Movements, 3, "the cap stops the walk after the second page")
	_, pagerPosts, _ := portal.counts()
	require.Equal(t, 1, pagerPosts)
}

func TestClientMovementsEmptyListing(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	portal.noMovements = true
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	result := client.Movements(context.Background(), "01021234567890123456")
	require.True(t, result.Success, "an explicit empty listing is not a failure")
	require.Empty(t, result.Movements)
}

func TestClientMovementsUnknownAccount(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	result := client.Movements(context.Background(), "9999-8888-77-6666555544")
	require.False(t, result.Success)
	require.Equal(t, ErrorKindProtocol, result.Error.Kind)
}

func TestClientImportCookies(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")

	client.ImportCookies(map[string]string{"portal": "auth"})
	result := client.Accounts(context.Background())
	require.True(t, result.Success, "imported cookies carry the session")
	require.Len(t, result.Accounts, 1)
	loginPosts, _, _ := portal.counts()
	require.Equal(t, 0, loginPosts)
}

func TestClientImportedCookiesCanStillExpire(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")

	client.ImportCookies(map[string]string{"portal": "stale"})
	result := client.Accounts(context.Background())
	require.False(t, result.Success)
	require.Equal(t, ErrorKindProtocol, result.Error.Kind)
}

func TestClientLogout(t *testing.T) {
	defer telemetry.SetupForTesting(t, "scrapers/bancaweb")()
	portal := newFakePortal(t)
	client := portal.client(t, "carlos")
	require.True(t, client.Login(context.Background()).Success)

	client.Logout(context.Background())
	_, _, logouts := portal.counts()
	require.Equal(t, 1, logouts)

	result := client.Accounts(context.Background())
	require.False(t, result.Success, "the client forgets the session on logout")
}
