package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browser-session/internal/application/port/input"
	"browser-session/internal/application/port/output"
	"browser-session/internal/infrastructure/backend"
	"browser-session/internal/infrastructure/browser/rod"
	"browser-session/internal/infrastructure/htmlclean"
	"browser-session/internal/infrastructure/logger"
	"browser-session/internal/infrastructure/realtime/socketio"
	"browser-session/internal/infrastructure/token"
	"browser-session/internal/usecase/session"
)

type Container struct {
	Browser  output.BrowserPort
	Backend  output.BackendPort
	Logger   output.LoggerPort
	Sessions input.SessionOpener
}

type Config struct {
	SocketBaseURL     string
	APIBaseURL        string
	Namespace         string
	AgentName         string
	SuccessPageURL    string
	ErrorPageURL      string
	BrowserHeadless   bool
	BrowserControlURL string
	LogLevel          string
	LogDir            string
	ReinjectDelay     time.Duration
	PageDataTimeout   time.Duration
	CompactHTML       bool
}

// LoadConfig reads the container settings from the environment.
func LoadConfig(env output.ConfigPort) Config {
	socketURL := env.Get("SOCKET_BASE_URL")
	sessionDefaults := session.DefaultConfig()

	return Config{
		SocketBaseURL:     socketURL,
		APIBaseURL:        env.GetWithDefault("API_BASE_URL", socketURL),
		Namespace:         env.GetWithDefault("SOCKET_NAMESPACE", sessionDefaults.Transport.Namespace),
		AgentName:         env.GetWithDefault("AGENT_NAME", sessionDefaults.Transport.AgentName),
		SuccessPageURL:    env.Get("SUCCESS_PAGE_URL"),
		ErrorPageURL:      env.Get("ERROR_PAGE_URL"),
		BrowserHeadless:   env.GetBool("BROWSER_HEADLESS", true),
		BrowserControlURL: env.Get("BROWSER_CONTROL_URL"),
		LogLevel:          env.GetWithDefault("LOG_LEVEL", "info"),
		LogDir:            env.Get("LOG_DIR"),
		ReinjectDelay:     env.GetDuration("REINJECT_DELAY", sessionDefaults.Executor.ReinjectDelay),
		PageDataTimeout:   env.GetDuration("PAGE_DATA_TIMEOUT", sessionDefaults.PageData.Timeout),
		CompactHTML:       env.GetBool("COMPACT_HTML", false),
	}
}

// SessionConfig maps the container settings onto the session defaults.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Transport.BaseURL = c.SocketBaseURL
	if c.Namespace != "" {
		cfg.Transport.Namespace = c.Namespace
	}
	if c.AgentName != "" {
		cfg.Transport.AgentName = c.AgentName
	}
	cfg.Executor.SuccessPageURL = c.SuccessPageURL
	cfg.Executor.ErrorPageURL = c.ErrorPageURL
	if c.ReinjectDelay > 0 {
		cfg.Executor.ReinjectDelay = c.ReinjectDelay
	}
	if c.PageDataTimeout > 0 {
		cfg.PageData.Timeout = c.PageDataTimeout
	}
	if c.CompactHTML {
		cfg.PageData.CompactHTML = htmlclean.New(htmlclean.DefaultConfig()).Compact
	}
	return cfg
}

func NewContainer(ctx context.Context, cfg Config) (*Container, error) {
	if cfg.SocketBaseURL == "" {
		return nil, errors.New("SOCKET_BASE_URL is required")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Dir = cfg.LogDir
	log, err := logger.NewLoggerAdapter(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	browserCfg := rod.DefaultConfig()
	browserCfg.Headless = cfg.BrowserHeadless
	browserCfg.ControlURL = cfg.BrowserControlURL
	browserCfg.Logger = log.WithField("component", "browser")
	browser, err := rod.NewBrowserAdapter(ctx, browserCfg)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create browser: %w", err)
	}

	apiURL := cfg.APIBaseURL
	if apiURL == "" {
		apiURL = cfg.SocketBaseURL
	}
	backendCfg := backend.DefaultConfig(apiURL)
	backendCfg.Logger = log.WithField("component", "backend")
	client := backend.NewClient(backendCfg)

	dialerOpts := socketio.DefaultOptions()
	dialerOpts.Logger = log.WithField("component", "socketio")

	opener := session.NewOpener(
		browser,
		client,
		socketio.NewDialer(dialerOpts),
		token.NewDecoder(),
		log,
		cfg.SessionConfig(),
	)

	return &Container{
		Browser:  browser,
		Backend:  client,
		Logger:   log,
		Sessions: opener,
	}, nil
}

func (c *Container) Close() {
	if c.Browser != nil {
		c.Browser.Close()
	}
	if c.Logger != nil {
		c.Logger.Close()
	}
}
