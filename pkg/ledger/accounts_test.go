package ledger

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

var (
	testProgram = base58.Encode(make([]byte, 32))
	testWallet  = base58.Encode(append([]byte{1}, make([]byte, 31)...))
)

func TestDeriveCreditAccountDeterministic(t *testing.T) {
	a, err := DeriveCreditAccount(testProgram, testWallet)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveCreditAccount(testProgram, testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same inputs must derive the same account")
	}

	otherWallet := base58.Encode(append([]byte{2}, make([]byte, 31)...))
	c, err := DeriveCreditAccount(testProgram, otherWallet)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("different wallets must derive different accounts")
	}
}

func TestDeriveCreditAccountRejectsBadInput(t *testing.T) {
	if _, err := DeriveCreditAccount("not-base58-!!", testWallet); err == nil {
		t.Error("invalid program address should fail")
	}
	if _, err := DeriveCreditAccount(testProgram, "not-base58-!!"); err == nil {
		t.Error("invalid wallet address should fail")
	}
}

func TestDecodeCreditAccount(t *testing.T) {
	owner := make([]byte, 32)
	owner[0] = 7

	data := make([]byte, creditAccountLen)
	copy(data[discriminatorLen:], owner)
	binary.LittleEndian.PutUint16(data[discriminatorLen+32:], 712)
	data[discriminatorLen+34] = 1
	binary.LittleEndian.PutUint64(data[discriminatorLen+35:], 1700000000)
	binary.LittleEndian.PutUint64(data[discriminatorLen+43:], 1700000100)

	acc, err := DecodeCreditAccount(data)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Owner != base58.Encode(owner) {
		t.Errorf("Owner = %s", acc.Owner)
	}
	if acc.CurrentScore != 712 {
		t.Errorf("CurrentScore = %d, want 712", acc.CurrentScore)
	}
	if acc.RiskLevel != 1 || acc.RiskLevelString() != "medium" {
		t.Errorf("RiskLevel = %d (%s)", acc.RiskLevel, acc.RiskLevelString())
	}
	if acc.LastUpdated != 1700000000 || acc.ScoreTimestamp != 1700000100 {
		t.Errorf("timestamps = %d, %d", acc.LastUpdated, acc.ScoreTimestamp)
	}
}

func TestDecodeCreditAccountTooShort(t *testing.T) {
	if _, err := DecodeCreditAccount(make([]byte, 10)); err == nil {
		t.Error("short data should fail")
	}
}

func TestExtractMXEPublicKey(t *testing.T) {
	data := make([]byte, discriminatorLen+32)
	data[discriminatorLen] = 0xAB

	key, err := ExtractMXEPublicKey(data)
	if err != nil {
		t.Fatal(err)
	}
	if key[0] != 0xAB {
		t.Errorf("key[0] = %x, want ab", key[0])
	}

	if _, err := ExtractMXEPublicKey(make([]byte, 8)); err == nil {
		t.Error("short data should fail")
	}
}

func TestRiskLevelString(t *testing.T) {
	tests := []struct {
		level uint8
		want  string
	}{
		{0, "low"},
		{1, "medium"},
		{2, "high"},
		{255, "high"},
	}
	for _, tt := range tests {
		acc := &CreditAccount{RiskLevel: tt.level}
		if got := acc.RiskLevelString(); got != tt.want {
			t.Errorf("RiskLevelString(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}
