package session

import (
	"encoding/json"
	"fmt"

	"browser-session/internal/domain/entity"
)

// commandTemplate evaluates a command script with commandId in scope. Wait
// scripts use it to post {type: 'wait', commandId, value} through the bridge.
// The returned value is coerced to something JSON can carry; promises are not
// awaited.
const commandTemplate = `(() => {
  const commandId = %s;
  const describe = (e) => (e && e.message) ? e.message : String(e);
  try {
    const value = eval(%s);
    let out = null;
    try {
      out = value === undefined ? null : JSON.parse(JSON.stringify(value));
    } catch (_) {
      out = String(value);
    }
    console.log('[session] command ' + commandId + ' ok');
    return { ok: true, value: out };
  } catch (e) {
    console.error('[session] command ' + commandId + ' failed: ' + describe(e));
    return { ok: false, error: describe(e) };
  }
})()`

// trackingScript logs the automation surface's load lifecycle.
const trackingScript = `(() => {
  const log = (phase) => console.log('[session] navigation ' + phase + ' ' + location.href);
  log(document.readyState);
  document.addEventListener('DOMContentLoaded', () => log('interactive'));
  window.addEventListener('load', () => log('complete'));
})()`

func wrapScript(commandID, script string) string {
	id, _ := json.Marshal(commandID)
	body, _ := json.Marshal(script)
	return fmt.Sprintf(commandTemplate, id, body)
}

type scriptOutcome struct {
	OK    bool
	Value entity.Value
	Error string
}

// parseOutcome reads the {ok, value, error} object produced by commandTemplate.
func parseOutcome(v entity.Value, execErr error) scriptOutcome {
	if execErr != nil {
		return scriptOutcome{Error: execErr.Error()}
	}
	obj, ok := v.AsObject()
	if !ok {
		return scriptOutcome{Error: fmt.Sprintf("unexpected script result %s", v.Kind())}
	}
	okv, _ := obj.Get("ok")
	out := scriptOutcome{OK: okv.Truthy()}
	out.Value, _ = obj.Get("value")
	out.Error = obj.GetString("error")
	if !out.OK && out.Error == "" {
		out.Error = "script failed"
	}
	return out
}
