package entity

type Surface string

const (
	SurfaceUI         Surface = "ui"
	SurfaceAutomation Surface = "automation"
)

func (s Surface) String() string {
	return string(s)
}

type SurfaceEventKind string

const (
	SurfaceNavigationStarted  SurfaceEventKind = "navigation_started"
	SurfaceNavigationFinished SurfaceEventKind = "navigation_finished"
	SurfaceMessage            SurfaceEventKind = "message"
	SurfaceConsole            SurfaceEventKind = "console"
)

// SurfaceEvent is a notification from a browser surface back into the session.
type SurfaceEvent struct {
	Kind    SurfaceEventKind
	Surface Surface
	URL     string
	Message *BridgeMessage
	Console string
}

type BridgeMessageType string

const (
	BridgeWait     BridgeMessageType = "wait"
	BridgePageData BridgeMessageType = "pageData"
	BridgeLog      BridgeMessageType = "log"
)

// BridgeMessage is what page scripts post through window.SessionBridge.
type BridgeMessage struct {
	Type      BridgeMessageType `json:"type"`
	CommandID string            `json:"commandId,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Value     Value             `json:"value"`
	Error     string            `json:"error,omitempty"`
}
