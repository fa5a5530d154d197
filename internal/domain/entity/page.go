package entity

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite,omitempty"`
}

type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PageData is a one-shot snapshot of the automation surface. It is attached to
// a single command result and never stored.
type PageData struct {
	Cookies        []Cookie      `json:"cookies"`
	LocalStorage   []StorageItem `json:"localStorage"`
	SessionStorage []StorageItem `json:"sessionStorage"`
	HTML           string        `json:"html"`
	URL            string        `json:"url"`
	Screenshot     *Screenshot   `json:"screenshot,omitempty"`
	Errors         []string      `json:"errors,omitempty"`
}

type Screenshot struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// BrowserState is the periodic telemetry payload.
type BrowserState struct {
	URL        string `json:"url"`
	Screenshot string `json:"screenshot,omitempty"`
}
