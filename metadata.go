package flagcore

import (
	"runtime"
	"sync"

	"github.com/google/uuid"
)

type sdkMetadata struct {
	SDKType         string `json:"sdkType"`
	SDKVersion      string `json:"sdkVersion"`
	LanguageVersion string `json:"languageVersion"`
	SessionID       string `json:"sessionID"`
}

var (
	sessionMu sync.RWMutex
	sessionID string
)

// newSessionID assigns a fresh process-session identifier. Called once per
// facade Initialize so repeated test Initialize/Shutdown cycles don't reuse
// a stale id.
func newSessionID() string {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	sessionID = uuid.NewString()
	return sessionID
}

func currentSessionID() string {
	sessionMu.RLock()
	id := sessionID
	sessionMu.RUnlock()
	if id == "" {
		return newSessionID()
	}
	return id
}

func getSDKMetadata() sdkMetadata {
	return sdkMetadata{
		SDKType:         "flagcore-go",
		SDKVersion:      "0.1.0",
		LanguageVersion: runtime.Version(),
		SessionID:       currentSessionID(),
	}
}
