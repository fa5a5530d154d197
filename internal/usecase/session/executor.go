package session

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"browser-session/internal/application/port/output"
	"browser-session/internal/domain/entity"
	"browser-session/internal/usecase/pagedata"
	"browser-session/internal/usecase/successurl"
)

const (
	defaultReinjectDelay = time.Second

	globalScriptID = "global"
)

type ExecutorConfig struct {
	SuccessPageURL string
	ErrorPageURL   string
	// ReinjectDelay lets a new page settle before a pending wait script is
	// injected again.
	ReinjectDelay time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{ReinjectDelay: defaultReinjectDelay}
}

// executor is the command state machine. All methods except the ones noted
// run on the session queue.
type executor struct {
	ctx       context.Context
	browser   output.BrowserPort
	backend   output.BackendPort
	collector *pagedata.Collector
	host      output.HostCallbacks
	logger    output.LoggerPort
	cfg       ExecutorConfig
	token     string
	post      func(func()) bool

	phase          entity.SessionPhase
	current        *entity.Command
	lastWait       *entity.Command
	executingWait  *entity.Command
	lastUserAction *entity.Command
	successURLs    []entity.SuccessURL
	activeSurface  entity.Surface
	connection     *entity.ConnectionSnapshot
	configuration  *entity.AutomationConfiguration
	reinjectTimer  *time.Timer
}

func newExecutor(
	ctx context.Context,
	browser output.BrowserPort,
	backend output.BackendPort,
	collector *pagedata.Collector,
	host output.HostCallbacks,
	logger output.LoggerPort,
	cfg ExecutorConfig,
	token string,
	post func(func()) bool,
) *executor {
	if cfg.ReinjectDelay <= 0 {
		cfg.ReinjectDelay = defaultReinjectDelay
	}
	return &executor{
		ctx:       ctx,
		browser:   browser,
		backend:   backend,
		collector: collector,
		host:      host,
		logger:    logger,
		cfg:       cfg,
		token:     token,
		post:      post,
		phase:     entity.PhaseIdle,
	}
}

// ShowInitialSurface puts the ui surface in front.
func (e *executor) ShowInitialSurface() {
	if err := e.browser.SetVisible(e.ctx, entity.SurfaceUI); err != nil {
		e.logger.Warn("Failed to show ui surface", "error", err)
		return
	}
	e.activeSurface = entity.SurfaceUI
}

// ApplyConfiguration sets the automation user agent and opens the integration.
func (e *executor) ApplyConfiguration(conf *entity.AutomationConfiguration) {
	e.configuration = conf
	if conf.AutomationUserAgent != "" {
		if err := e.browser.SetUserAgent(e.ctx, entity.SurfaceAutomation, conf.AutomationUserAgent); err != nil {
			e.logger.Warn("Failed to set automation user agent", "error", err)
		}
	}
	if conf.Integration.URL != "" {
		e.logger.Info("Loading integration", "integration", conf.Integration.Slug, "url", conf.Integration.URL)
		if err := e.browser.LoadURL(e.ctx, entity.SurfaceAutomation, conf.Integration.URL); err != nil {
			e.logger.Warn("Failed to load integration url", "error", err)
		}
	}
}

func (e *executor) HandleConnection(ev entity.ConnectionEvent) {
	e.connection = &entity.ConnectionSnapshot{Items: ev.Data, ConnectionID: ev.ConnectionID}
	e.logger.Info("Connection data received", "connectionId", ev.ConnectionID, "items", len(ev.Data))
	if ev.UserActionRequired {
		e.setSurface(entity.SurfaceAutomation)
	}
}

// HandleCommand replaces the current command and dispatches it.
func (e *executor) HandleCommand(cmd *entity.Command) {
	if e.current != nil {
		e.logger.Debug("Replacing current command", "previous", e.current.ID, "next", cmd.ID)
	}
	e.current = cmd
	e.phase = entity.PhaseCommandReceived
	e.logger.Info("Command received", "id", cmd.ID, "type", cmd.Type)

	if cmd.UserActionRequired {
		e.lastUserAction = cmd
		e.setSurface(entity.SurfaceAutomation)
	}

	e.phase = entity.PhaseExecuting
	switch cmd.Type {
	case entity.CommandNavigate:
		e.navigate(cmd)
	case entity.CommandClick, entity.CommandInput, entity.CommandInjectScript:
		e.runScript(cmd)
	case entity.CommandWait:
		e.lastWait = cmd
		e.injectWait(cmd)
	case entity.CommandDone:
		e.done(cmd)
	default:
		e.report(cmd, scriptOutcome{Error: fmt.Sprintf("%v: %s", entity.ErrUnknownCommandType, cmd.Type)}, false)
	}
}

// RejectCommand reports a command that could not be parsed.
func (e *executor) RejectCommand(id string, err error) {
	e.logger.Warn("Rejecting command", "id", id, "error", err)
	if id == "" {
		return
	}
	e.report(&entity.Command{ID: id}, scriptOutcome{Error: err.Error()}, false)
}

func (e *executor) navigate(cmd *entity.Command) {
	e.successURLs = cmd.Navigate.SuccessURLs
	if cmd.Navigate.URL == "" {
		e.report(cmd, scriptOutcome{Error: "navigate command has no url"}, false)
		return
	}
	if err := e.browser.LoadURL(e.ctx, entity.SurfaceAutomation, cmd.Navigate.URL); err != nil {
		e.report(cmd, scriptOutcome{Error: err.Error()}, false)
	}
}

func (e *executor) runScript(cmd *entity.Command) {
	outcome := e.execute(cmd)
	e.onScriptResult(cmd, outcome)
}

func (e *executor) injectWait(cmd *entity.Command) {
	e.executingWait = cmd
	outcome := e.execute(cmd)
	// A wait resolves through bridge messages; only a synchronous failure
	// produces a result here.
	if !outcome.OK {
		e.onScriptResult(cmd, outcome)
	}
}

func (e *executor) execute(cmd *entity.Command) scriptOutcome {
	if cmd.InjectScript == "" {
		return scriptOutcome{Error: fmt.Sprintf("%s command has no script", cmd.Type)}
	}
	v, err := e.browser.ExecuteScript(e.ctx, entity.SurfaceAutomation, wrapScript(cmd.ID, cmd.InjectScript))
	return parseOutcome(v, err)
}

// onScriptResult clears the id from both wait trackers whatever the outcome.
func (e *executor) onScriptResult(cmd *entity.Command, outcome scriptOutcome) {
	if e.lastWait != nil && e.lastWait.ID == cmd.ID {
		e.lastWait = nil
	}
	if e.executingWait != nil && e.executingWait.ID == cmd.ID {
		e.executingWait = nil
	}
	e.report(cmd, outcome, outcome.OK)
}

func (e *executor) done(cmd *entity.Command) {
	e.setSurface(entity.SurfaceUI)
	d := cmd.Done

	if d.Success {
		if d.ConnectionID != "" || len(d.History) > 0 {
			e.connection = &entity.ConnectionSnapshot{Items: d.History, ConnectionID: d.ConnectionID}
		}
		e.clearCurrent(cmd)
		complete := entity.ConnectionComplete{History: d.History, ConnectionID: d.ConnectionID}
		e.sendResult(cmd, entity.CommandResult{ID: cmd.ID, Status: entity.ResultSuccess, Data: valuePtr(d.Data)}, true, func() {
			e.host.OnConnectionComplete(complete)
			e.loadUI(e.cfg.SuccessPageURL)
		})
		return
	}

	msg := d.Error
	if msg == "" {
		msg = "connection failed"
	}
	e.clearCurrent(cmd)
	failure := entity.ConnectionError{Error: msg, Data: d.Data}
	e.sendResult(cmd, entity.CommandResult{ID: cmd.ID, Status: entity.ResultError, Data: valuePtr(d.Data), Error: msg}, false, func() {
		e.host.OnConnectionError(failure)
		e.loadUI(errorPageURL(e.cfg.ErrorPageURL, msg))
	})
}

// loadUI may run off the queue; the navigation is posted back onto it.
func (e *executor) loadUI(target string) {
	if target == "" {
		return
	}
	e.post(func() {
		if err := e.browser.LoadURL(e.ctx, entity.SurfaceUI, target); err != nil {
			e.logger.Warn("Failed to load ui page", "url", target, "error", err)
		}
	})
}

func errorPageURL(base, message string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("error", message)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *executor) HandleNavigationStarted(surface entity.Surface, u string) {
	if surface != entity.SurfaceAutomation {
		return
	}
	e.logger.Debug("Automation navigation started", "url", u)
	e.matchSuccessURL(u, entity.NavigationStart)
}

func (e *executor) HandleNavigationFinished(surface entity.Surface, u string) {
	if surface != entity.SurfaceAutomation {
		e.logger.Debug("UI navigation finished", "url", u)
		return
	}
	e.logger.Debug("Automation navigation finished", "url", u)

	e.injectGlobalScript()

	e.executingWait = nil

	if e.current != nil && e.current.Type == entity.CommandNavigate {
		cmd := e.current
		if _, err := e.browser.ExecuteScript(e.ctx, entity.SurfaceAutomation, trackingScript); err != nil {
			e.logger.Debug("Tracking script failed", "error", err)
		}
		if cmd.InjectScript != "" {
			if outcome := e.execute(cmd); !outcome.OK {
				e.logger.Debug("Navigate script failed", "id", cmd.ID, "error", outcome.Error)
			}
		}
		e.report(cmd, scriptOutcome{OK: true, Value: entity.String(u)}, true)
	}

	if e.lastWait != nil {
		e.scheduleReinjection()
	}

	e.matchSuccessURL(u, entity.NavigationEnd)
}

func (e *executor) injectGlobalScript() {
	if e.configuration == nil || e.configuration.GlobalJavascript == "" {
		return
	}
	v, err := e.browser.ExecuteScript(e.ctx, entity.SurfaceAutomation, wrapScript(globalScriptID, e.configuration.GlobalJavascript))
	if outcome := parseOutcome(v, err); !outcome.OK {
		e.logger.Debug("Global script failed", "error", outcome.Error)
	}
}

// scheduleReinjection keeps at most one pending timer; a later navigation
// replaces it.
func (e *executor) scheduleReinjection() {
	if e.reinjectTimer != nil {
		e.reinjectTimer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(e.cfg.ReinjectDelay, func() {
		e.post(func() {
			if e.reinjectTimer != timer {
				return
			}
			e.reinjectTimer = nil
			e.reinject()
		})
	})
	e.reinjectTimer = timer
}

func (e *executor) reinject() {
	cmd := e.lastWait
	if cmd == nil || e.executingWait != nil {
		return
	}
	e.logger.Debug("Reinjecting wait command", "id", cmd.ID)
	e.phase = entity.PhaseExecuting
	e.injectWait(cmd)
}

// HandleWaitMessage applies a wait signal posted by a page script.
func (e *executor) HandleWaitMessage(msg *entity.BridgeMessage) {
	cmd := e.waitTarget(msg.CommandID)
	if cmd == nil {
		e.logger.Debug("Dropping wait message for unknown command", "commandId", msg.CommandID)
		return
	}

	if msg.Value.Truthy() {
		e.lastWait = nil
		e.executingWait = nil
		e.report(cmd, scriptOutcome{OK: true, Value: msg.Value}, true)
		return
	}

	// lastWait is kept so the next navigation injects the wait again.
	e.executingWait = nil
	errMsg := msg.Error
	if errMsg == "" {
		errMsg = "wait condition not met"
	}
	e.report(cmd, scriptOutcome{Error: errMsg, Value: msg.Value}, false)
}

func (e *executor) waitTarget(id string) *entity.Command {
	for _, c := range []*entity.Command{e.executingWait, e.lastWait} {
		if c != nil && (id == "" || c.ID == id) {
			return c
		}
	}
	return nil
}

func (e *executor) matchSuccessURL(u string, nav entity.NavigationType) {
	if len(e.successURLs) == 0 {
		return
	}
	if match, ok := successurl.FirstMatch(u, e.successURLs, nav); ok {
		e.logger.Info("Success url reached", "url", u, "pattern", match.URLPattern, "navigationType", nav)
		e.setSurface(entity.SurfaceUI)
	}
}

// setSurface is a no-op when s is already in front.
func (e *executor) setSurface(s entity.Surface) {
	if e.activeSurface == s {
		return
	}
	if err := e.browser.SetVisible(e.ctx, s); err != nil {
		e.logger.Warn("Failed to switch surface", "surface", s, "error", err)
		return
	}
	e.logger.Debug("Surface switched", "surface", s)
	e.activeSurface = s
}

func (e *executor) report(cmd *entity.Command, outcome scriptOutcome, withPageData bool) {
	result := entity.CommandResult{ID: cmd.ID, Status: entity.ResultSuccess}
	if !outcome.OK {
		result.Status = entity.ResultError
		result.Error = outcome.Error
		withPageData = false
	}
	result.Data = valuePtr(outcome.Value)
	e.clearCurrent(cmd)
	e.sendResult(cmd, result, withPageData, nil)
}

func (e *executor) clearCurrent(cmd *entity.Command) {
	if e.current != nil && e.current.ID == cmd.ID {
		e.current = nil
	}
}

// sendResult collects page data and posts the result off the queue. then, if
// set, runs after the post attempt on the same goroutine unless the session
// has been closed by then. Delivery errors are only logged.
func (e *executor) sendResult(cmd *entity.Command, result entity.CommandResult, withPageData bool, then func()) {
	domains := e.cookieDomains(cmd)
	if withPageData {
		e.phase = entity.PhaseAwaitingPageData
	}
	ctx := context.WithoutCancel(e.ctx)

	go func() {
		if withPageData && e.collector != nil {
			result.PageData = e.collector.Collect(e.ctx, domains)
		}
		e.setPhase(cmd, entity.PhaseResultSent)

		if err := e.backend.SendCommandResult(ctx, e.token, result); err != nil {
			e.logger.Error("Command result not delivered", "id", result.ID, "status", result.Status, "error", err)
		} else {
			e.logger.Info("Command result sent", "id", result.ID, "status", result.Status)
		}
		e.setPhase(cmd, entity.PhaseIdle)

		// Nothing reaches the host once the session is closed.
		if then != nil && e.ctx.Err() == nil {
			then()
		}
	}()
}

// setPhase runs off the queue. A phase change for a command that has been
// replaced in the meantime is dropped.
func (e *executor) setPhase(cmd *entity.Command, phase entity.SessionPhase) {
	e.post(func() {
		if e.current != nil && e.current != cmd {
			return
		}
		e.phase = phase
	})
}

func (e *executor) cookieDomains(cmd *entity.Command) []string {
	var base []string
	if e.configuration != nil {
		base = e.configuration.CookieDomains
	}
	seen := make(map[string]bool, len(base)+len(cmd.CookieDomains))
	out := make([]string, 0, len(base)+len(cmd.CookieDomains))
	for _, d := range append(append([]string{}, base...), cmd.CookieDomains...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// State copies the bookkeeping.
func (e *executor) State() entity.SessionState {
	st := entity.SessionState{
		Phase:                 e.phase,
		CurrentCommand:        e.current,
		LastWaitCommand:       e.lastWait,
		ExecutingWaitCommand:  e.executingWait,
		LastUserActionCommand: e.lastUserAction,
		ActiveSurface:         e.activeSurface,
	}
	if e.successURLs != nil {
		st.CurrentSuccessURLs = append([]entity.SuccessURL(nil), e.successURLs...)
	}
	if e.connection != nil {
		c := *e.connection
		st.Connection = &c
	}
	return st
}

// Reset drops all session state and stops the reinjection timer. It is
// called once the queue has stopped.
func (e *executor) Reset() {
	if e.reinjectTimer != nil {
		e.reinjectTimer.Stop()
		e.reinjectTimer = nil
	}
	e.phase = entity.PhaseIdle
	e.current = nil
	e.lastWait = nil
	e.executingWait = nil
	e.lastUserAction = nil
	e.successURLs = nil
	e.connection = nil
	e.configuration = nil
}

func valuePtr(v entity.Value) *entity.Value {
	if v.IsNull() {
		return nil
	}
	return &v
}
