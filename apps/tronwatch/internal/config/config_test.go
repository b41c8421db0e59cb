package config

import (
	"reflect"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", StoreBackendMemory)
	t.Setenv("TRON_NETWORK", "shasta")
	t.Setenv("PAYMENT_POLL_INTERVAL", "500ms")
	t.Setenv("SPECIAL_OFFER_PRICE", "2.5")
	t.Setenv("API_PORT", "not-a-port")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	if cfg.TronGridURL != "https://api.shasta.trongrid.io" {
		t.Errorf("TronGridURL = %s", cfg.TronGridURL)
	}
	if !cfg.IsTestnet() {
		t.Error("shasta should be treated as testnet")
	}
	if cfg.PaymentPollInterval != 500*time.Millisecond {
		t.Errorf("PaymentPollInterval = %v", cfg.PaymentPollInterval)
	}
	if cfg.AddressPollInterval != 6*time.Second {
		t.Errorf("AddressPollInterval = %v", cfg.AddressPollInterval)
	}
	if cfg.SpecialOfferPrice.String() != "2.5" {
		t.Errorf("SpecialOfferPrice = %s", cfg.SpecialOfferPrice)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want fallback 8080", cfg.APIPort)
	}
}

func TestNewConfigRequiresDbURLForPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", StoreBackendPostgres)
	t.Setenv("DB_URL", "")

	if _, err := NewConfig(); err == nil {
		t.Fatal("expected error without DB_URL")
	}
}

func TestPaymentAddresses(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want map[string][]string
	}{
		{
			name: "separate addresses",
			cfg:  Config{SpecialOfferAddress: "TA", EnergySmartAddress: "TB"},
			want: map[string][]string{"TA": {"TRX"}, "TB": {"TRX", "USDT"}},
		},
		{
			name: "shared address",
			cfg:  Config{SpecialOfferAddress: "TA", EnergySmartAddress: "TA"},
			want: map[string][]string{"TA": {"TRX", "USDT"}},
		},
		{
			name: "none configured",
			cfg:  Config{},
			want: map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.PaymentAddresses(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PaymentAddresses() = %v, want %v", got, tt.want)
			}
		})
	}
}
