package entity

type ConnectionComplete struct {
	History      []*Object
	ConnectionID string
}

type ConnectionError struct {
	Error string
	Data  Value
}

type DataComplete struct {
	Data    Value
	Prompts Value
}

type PromptComplete struct {
	Key      string
	Value    Value
	Response Value
}

// ConnectionEvent is the payload of the realtime "connection" event.
type ConnectionEvent struct {
	Data               []*Object `json:"data"`
	ConnectionID       string    `json:"connectionId"`
	UserActionRequired bool      `json:"userActionRequired"`
}
