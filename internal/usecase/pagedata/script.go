package pagedata

import (
	"encoding/json"
	"fmt"
)

// collectTemplate reads each field on its own so that one denied access (e.g. a
// sandboxed frame blocking storage) only adds an entry to errors.
const collectTemplate = `(() => {
  const requestId = %s;
  const errors = [];
  const read = (name, fn, fallback) => {
    try {
      return fn();
    } catch (e) {
      errors.push(name + ': ' + (e && e.message ? e.message : String(e)));
      return fallback;
    }
  };
  const storage = (s) => {
    const out = [];
    for (let i = 0; i < s.length; i++) {
      const key = s.key(i);
      out.push({ name: key, value: s.getItem(key) });
    }
    return out;
  };
  const value = {
    url: read('url', () => window.location.href, ''),
    html: read('html', () => document.documentElement.outerHTML, ''),
    localStorage: read('localStorage', () => storage(window.localStorage), []),
    sessionStorage: read('sessionStorage', () => storage(window.sessionStorage), []),
    cookies: read('cookies', () => document.cookie.split(';')
      .map((c) => c.trim())
      .filter(Boolean)
      .map((c) => {
        const i = c.indexOf('=');
        return i < 0 ? { name: c, value: '' } : { name: c.slice(0, i), value: c.slice(i + 1) };
      }), []),
  };
  value.errors = errors;
  window.SessionBridge.postMessage(JSON.stringify({ type: 'pageData', requestId: requestId, value: value }));
  return true;
})()`

func collectScript(requestID string) string {
	quoted, _ := json.Marshal(requestID)
	return fmt.Sprintf(collectTemplate, quoted)
}
