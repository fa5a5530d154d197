package entity

import "time"

type Integration struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type ImageOptimization struct {
	Quality   int `json:"quality"`
	MaxWidth  int `json:"maxWidth"`
	MaxHeight int `json:"maxHeight"`
}

// AutomationConfiguration is fetched once per session before the realtime
// channel connects.
type AutomationConfiguration struct {
	Integration         Integration       `json:"integration"`
	CookieDomains       []string          `json:"cookieDomains"`
	GlobalJavascript    string            `json:"globalJavascript"`
	AutomationUserAgent string            `json:"automationUserAgent"`
	ImageOptimization   ImageOptimization `json:"imageOptimization"`
}

// IntentClaims are the feature flags carried by an intent token.
type IntentClaims struct {
	Record             bool
	CaptureScreenshot  bool
	ScreenshotInterval time.Duration
	SessionID          string
}
