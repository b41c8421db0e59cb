package model

import "testing"

func TestClassifyAndAllows(t *testing.T) {
	const watched = "TWatched"

	tests := []struct {
		name   string
		sub    func(*MonitoredAddress)
		from   string
		to     string
		asset  string
		dir    Direction
		notify bool
	}{
		{name: "incoming trx", from: "TOther", to: watched, asset: "TRX", dir: DirectionIncoming, notify: true},
		{name: "outgoing usdt", from: watched, to: "TOther", asset: "USDT", dir: DirectionOutgoing, notify: true},
		{name: "unrelated", from: "TA", to: "TB", asset: "TRX", dir: DirectionNone, notify: false},
		{
			name: "incoming disabled",
			sub:  func(m *MonitoredAddress) { m.NotifyOnIncoming = false },
			from: "TOther", to: watched, asset: "TRX",
			dir: DirectionIncoming, notify: false,
		},
		{
			name: "usdt disabled",
			sub:  func(m *MonitoredAddress) { m.NotifyUSDT = false },
			from: "TOther", to: watched, asset: "USDT",
			dir: DirectionIncoming, notify: false,
		},
		{
			name: "other asset always allowed",
			sub:  func(m *MonitoredAddress) { m.NotifyTRX = false; m.NotifyUSDT = false },
			from: "TOther", to: watched, asset: "BTT",
			dir: DirectionIncoming, notify: true,
		},
		{
			name: "self transfer allowed by outgoing only",
			sub:  func(m *MonitoredAddress) { m.NotifyOnIncoming = false },
			from: watched, to: watched, asset: "TRX",
			dir: DirectionSelf, notify: true,
		},
		{
			name: "self transfer with both directions off",
			sub:  func(m *MonitoredAddress) { m.NotifyOnIncoming = false; m.NotifyOnOutgoing = false },
			from: watched, to: watched, asset: "TRX",
			dir: DirectionSelf, notify: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := NewMonitoredAddress(1, watched, "")
			if tt.sub != nil {
				tt.sub(&sub)
			}
			tr := Transfer{From: tt.from, To: tt.to, Asset: tt.asset}

			dir := sub.Classify(tr)
			if dir != tt.dir {
				t.Fatalf("Classify() = %q, want %q", dir, tt.dir)
			}
			if got := sub.Allows(dir, tt.asset); got != tt.notify {
				t.Errorf("Allows() = %v, want %v", got, tt.notify)
			}
		})
	}
}

func TestToggle(t *testing.T) {
	sub := NewMonitoredAddress(1, "TA", "")
	for _, s := range []NotifySetting{SettingIncoming, SettingOutgoing, SettingTRX, SettingUSDT} {
		sub.Toggle(s)
	}
	if sub.NotifyOnIncoming || sub.NotifyOnOutgoing || sub.NotifyTRX || sub.NotifyUSDT {
		t.Errorf("all toggles should be off: %+v", sub)
	}

	if _, err := ParseNotifySetting("notify_btc"); err == nil {
		t.Error("expected error for unknown setting")
	}
}
