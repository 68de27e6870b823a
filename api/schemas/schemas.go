// api/schemas/schemas.go
package schemas

import "time"

// Platform identifies a supported content platform.
type Platform string

const (
	PlatformWeChat  Platform = "wechat"
	PlatformZhihu   Platform = "zhihu"
	PlatformGeneral Platform = "general"
)

// Cookie is a single browser cookie captured from or restored into a session.
// The JSON layout is part of the persisted state-file format and must not change.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"` // Unix seconds; <= 0 means session cookie.
}

// SessionState is the durable snapshot of one platform profile's browser state.
// It is serialized verbatim to the profile's state file.
type SessionState struct {
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	SavedAt        time.Time         `json:"saved_at"`
	Platform       string            `json:"platform"`
	Site           *string           `json:"site"`
}

// NewSessionState returns an empty but fully initialized state for a profile.
// Empty maps (not nil) keep the on-disk format stable and loadable.
func NewSessionState(platform, site string) *SessionState {
	s := &SessionState{
		Cookies:        []Cookie{},
		LocalStorage:   map[string]string{},
		SessionStorage: map[string]string{},
		Platform:       platform,
	}
	if site != "" {
		s.Site = &site
	}
	return s
}

// SiteOrEmpty returns the optional site component as a plain string.
func (s *SessionState) SiteOrEmpty() string {
	if s.Site == nil {
		return ""
	}
	return *s.Site
}

// StateSummary describes one persisted state file for diagnostics.
type StateSummary struct {
	ProfileID           string    `json:"profile_id"`
	Platform            string    `json:"platform"`
	Site                string    `json:"site,omitempty"`
	SavedAt             time.Time `json:"saved_at"`
	CookieCount         int       `json:"cookie_count"`
	LocalStorageCount   int       `json:"local_storage_count"`
	SessionStorageCount int       `json:"session_storage_count"`
	// Damaged marks an entry whose file exists but could not be parsed.
	Damaged bool `json:"damaged,omitempty"`
}
