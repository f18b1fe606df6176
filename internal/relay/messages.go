// Package relay implements the background coordinator: the single
// writer of the canonical EmailState and the broadcast hub for popup
// views.
package relay

import (
	"time"

	"github.com/mailfit/mailfit/internal/domain"
)

// Message is the closed set of messages the coordinator understands.
// Each kind is its own type with a typed payload; the run loop
// dispatches with an exhaustive type switch. The unexported marker
// keeps the set sealed to this package.
type Message interface {
	relayMessage()
}

// ComposeOpenedMsg signals a compose dialog appeared in a tab.
type ComposeOpenedMsg struct {
	TabID       string
	Environment domain.Environment
}

// ComposeClosedMsg signals the compose dialog in a tab went away.
type ComposeClosedMsg struct {
	TabID string
}

// ContentUpdatedMsg carries a fresh EmailState from the sync engine.
type ContentUpdatedMsg struct {
	State domain.EmailState
}

// SentReply answers an EmailSentMsg.
type SentReply struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// EmailSentMsg signals a detected send; the gate increments and the
// canonical state resets.
type EmailSentMsg struct {
	Timestamp time.Time
	Reply     chan SentReply
}

// CheckUsageMsg asks the gate whether another send is allowed.
type CheckUsageMsg struct {
	Reply chan domain.UsageStatus
}

// GetStateMsg asks for the coordinator's current snapshot.
type GetStateMsg struct {
	Reply chan domain.EmailState
}

// SettingsUpdatedMsg persists new settings and fans them out.
type SettingsUpdatedMsg struct {
	Settings domain.Settings
}

// GetSettingsMsg asks for the current settings.
type GetSettingsMsg struct {
	Reply chan domain.Settings
}

// UnlockedMsg records that payment verification succeeded.
type UnlockedMsg struct {
	Reply chan error
}

// TogglePreviewMsg forwards the keyboard-shortcut preview toggle.
type TogglePreviewMsg struct {
	Reply chan error
}

// subscribeMsg attaches a popup subscriber.
type subscribeMsg struct {
	sub *subscriber
}

// unsubscribeMsg detaches a popup subscriber.
type unsubscribeMsg struct {
	id uint64
}

func (ComposeOpenedMsg) relayMessage()   {}
func (ComposeClosedMsg) relayMessage()   {}
func (ContentUpdatedMsg) relayMessage()  {}
func (EmailSentMsg) relayMessage()       {}
func (CheckUsageMsg) relayMessage()      {}
func (GetStateMsg) relayMessage()        {}
func (SettingsUpdatedMsg) relayMessage() {}
func (GetSettingsMsg) relayMessage()     {}
func (UnlockedMsg) relayMessage()        {}
func (TogglePreviewMsg) relayMessage()   {}
func (subscribeMsg) relayMessage()       {}
func (unsubscribeMsg) relayMessage()     {}
