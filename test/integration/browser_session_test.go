package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"browser-session/internal/domain/entity"
	"browser-session/internal/infrastructure/browser/rod"
	"browser-session/internal/infrastructure/logger"
	"browser-session/internal/infrastructure/mockbackend"
	"browser-session/internal/usecase/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Login</title><script>window.loginReady = true;</script></head>
<body>
  <form action="/home"><input id="user" name="user"><button id="go" type="submit">Sign in</button></form>
</body>
</html>`)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<!DOCTYPE html><html><body><h1 id="welcome">Welcome %s</h1></body></html>`, r.URL.Query().Get("user"))
	})
	mux.HandleFunc("/success", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><body>done</body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestBrowserSession_LoginFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}

	site := bankSite(t)
	wait := `(() => {
  const check = () => {
    if (document.getElementById('welcome')) {
      window.SessionBridge.postMessage({ type: 'wait', commandId: commandId, value: true });
      return;
    }
    setTimeout(check, 50);
  };
  check();
  return 'watching';
})()`
	commands := []map[string]any{
		{"id": "n1", "type": "navigate", "url": site.URL + "/login"},
		{"id": "i1", "type": "input", "injectScript": "document.getElementById('user').value = 'ada'; 'typed'"},
		{"id": "w1", "type": "wait", "injectScript": wait},
		{"id": "c1", "type": "click", "injectScript": "document.getElementById('go').click(); 'clicked'"},
		{"id": "d1", "type": "done", "success": true, "data": map[string]any{"connectionId": "conn-7"}},
	}
	script := mockbackend.Script{Configuration: entity.AutomationConfiguration{
		CookieDomains: []string{"127.0.0.1"},
	}}
	for _, c := range commands {
		raw, err := json.Marshal(c)
		require.NoError(t, err)
		script.Commands = append(script.Commands, raw)
	}

	// The wait command resolves only after the click, so the backend must not
	// block on it.
	cfgBackend := mockbackend.DefaultConfig()
	cfgBackend.Script = script
	cfgBackend.ResultTimeout = 300 * time.Millisecond
	srv := mockbackend.New(cfgBackend, zeroLogger())
	backendTS := httptest.NewServer(srv.Handler())
	defer backendTS.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	browserCfg := rod.DefaultConfig()
	browserCfg.NoSandbox = true
	browser, err := rod.NewBrowserAdapter(ctx, browserCfg)
	require.NoError(t, err)
	defer browser.Close()

	cfg := sessionConfig(backendTS.URL)
	cfg.Executor.SuccessPageURL = site.URL + "/success"
	opener := session.NewOpener(browser, newBackendClient(backendTS.URL), newDialer(), newTokens(), logger.NewNop(), cfg)
	host := newHostRecorder()

	s, err := opener.Open(ctx, "intent-token", host)
	require.NoError(t, err)
	defer s.Close()

	complete := awaitComplete(t, host, 30*time.Second)
	assert.Equal(t, "conn-7", complete.ConnectionID)

	require.Eventually(t, func() bool {
		results := resultsByID(srv)
		_, ok := results["w1"]
		return ok && len(results) == len(commands)
	}, 20*time.Second, 50*time.Millisecond)

	results := resultsByID(srv)
	nav := results["n1"]
	assert.Equal(t, entity.ResultSuccess, nav.Status)
	require.NotNil(t, nav.PageData)
	assert.Contains(t, nav.PageData.URL, "/login")
	assert.Contains(t, nav.PageData.HTML, "Sign in")

	var sid bool
	for _, c := range nav.PageData.Cookies {
		sid = sid || c.Name == "sid"
	}
	assert.True(t, sid, "cookie store is read for configured domains")

	assert.Equal(t, entity.ResultSuccess, results["i1"].Status)
	assert.Equal(t, entity.ResultSuccess, results["c1"].Status)
	assert.Equal(t, entity.ResultSuccess, results["w1"].Status)

	require.Eventually(t, func() bool {
		return browser.CurrentURL(entity.SurfaceUI) == site.URL+"/success"
	}, 10*time.Second, 50*time.Millisecond)
}
