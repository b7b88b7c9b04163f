package banking

import "testing"

func TestExtractTransferDetails(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		amount    float64
		recipient string
	}{
		{"plain", "transfer 500 to kiran", 500, "kiran"},
		{"send form", "send 2000 to alice", 2000, "alice"},
		{"decimal dot", "send 99.50 to bob", 99.50, "bob"},
		{"decimal comma", "send 99,50 to bob", 99.50, "bob"},
		{"account number", "transfer 300 to account 456", 300, "456"},
		{"account number no space", "transfer 300 to account456", 300, "456"},
		{"possessive", "send 150 to kiran's account", 150, "kiran"},
		{"bare amount-to", "5500 to kiran", 5500, "kiran"},
		{"amount only", "send 5000", 5000, ""},
		{"recipient only", "send money to kiran", 0, "kiran"},
		{"nothing", "hello there", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTransferDetails(tt.message)
			if got.Amount != tt.amount {
				t.Errorf("amount: got %v, want %v", got.Amount, tt.amount)
			}
			if got.Recipient != tt.recipient {
				t.Errorf("recipient: got %q, want %q", got.Recipient, tt.recipient)
			}
		})
	}
}
