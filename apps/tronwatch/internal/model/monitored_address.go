package model

import (
	"fmt"
	"time"
)

type MonitoredAddress struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	Address          string    `db:"address" json:"address"`
	Nickname         string    `db:"nickname" json:"nickname"`
	NotifyOnIncoming bool      `db:"notify_on_incoming" json:"notify_on_incoming"`
	NotifyOnOutgoing bool      `db:"notify_on_outgoing" json:"notify_on_outgoing"`
	NotifyTRX        bool      `db:"notify_trx" json:"notify_trx"`
	NotifyUSDT       bool      `db:"notify_usdt" json:"notify_usdt"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// NewMonitoredAddress returns a subscription with every notification channel switched on.
func NewMonitoredAddress(userID int64, address, nickname string) MonitoredAddress {
	return MonitoredAddress{
		UserID:           userID,
		Address:          address,
		Nickname:         nickname,
		NotifyOnIncoming: true,
		NotifyOnOutgoing: true,
		NotifyTRX:        true,
		NotifyUSDT:       true,
	}
}

// NotifySetting names one of the boolean toggles on a subscription.
type NotifySetting string

const (
	SettingIncoming NotifySetting = "notify_on_incoming"
	SettingOutgoing NotifySetting = "notify_on_outgoing"
	SettingTRX      NotifySetting = "notify_trx"
	SettingUSDT     NotifySetting = "notify_usdt"
)

func ParseNotifySetting(s string) (NotifySetting, error) {
	switch NotifySetting(s) {
	case SettingIncoming, SettingOutgoing, SettingTRX, SettingUSDT:
		return NotifySetting(s), nil
	}
	return "", fmt.Errorf("unknown notify setting %q", s)
}

// Toggle flips the named setting in place.
func (m *MonitoredAddress) Toggle(setting NotifySetting) {
	switch setting {
	case SettingIncoming:
		m.NotifyOnIncoming = !m.NotifyOnIncoming
	case SettingOutgoing:
		m.NotifyOnOutgoing = !m.NotifyOnOutgoing
	case SettingTRX:
		m.NotifyTRX = !m.NotifyTRX
	case SettingUSDT:
		m.NotifyUSDT = !m.NotifyUSDT
	}
}

// Direction classifies a transfer relative to a watched address.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionSelf     Direction = "self"
)

// Classify reports how the transfer touches the subscription's address.
// A transfer from the address to itself is both incoming and outgoing.
func (m MonitoredAddress) Classify(t Transfer) Direction {
	in := t.To == m.Address
	out := t.From == m.Address
	switch {
	case in && out:
		return DirectionSelf
	case in:
		return DirectionIncoming
	case out:
		return DirectionOutgoing
	}
	return DirectionNone
}

// Allows reports whether the subscription's toggles permit a notification for
// the given direction and asset.
func (m MonitoredAddress) Allows(dir Direction, asset string) bool {
	var directionOK bool
	switch dir {
	case DirectionIncoming:
		directionOK = m.NotifyOnIncoming
	case DirectionOutgoing:
		directionOK = m.NotifyOnOutgoing
	case DirectionSelf:
		directionOK = m.NotifyOnIncoming || m.NotifyOnOutgoing
	}
	if !directionOK {
		return false
	}

	switch asset {
	case "TRX":
		return m.NotifyTRX
	case "USDT":
		return m.NotifyUSDT
	}
	return true
}
