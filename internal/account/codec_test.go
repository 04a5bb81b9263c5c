package account_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"LiqGuard/internal/account"
	"LiqGuard/internal/derive"
)

// ============================================================
// Discriminators
// ============================================================

func TestDiscriminator_Derivation(t *testing.T) {
	tests := []struct {
		name     string
		got      account.Discriminator
		preimage string
	}{
		{"position", account.PositionDiscriminator, "account:Position"},
		{"insurance_fund", account.InsuranceFundDiscriminator, "account:InsuranceFund"},
		{"instruction", account.InstructionDiscriminator("liquidate_full"), "global:liquidate_full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := sha256.Sum256([]byte(tt.preimage))
			if !bytes.Equal(tt.got[:], sum[:8]) {
				t.Errorf("discriminator %x, want %x", tt.got, sum[:8])
			}
		})
	}
}

func TestDiscriminator_KindsDistinct(t *testing.T) {
	if account.PositionDiscriminator == account.InsuranceFundDiscriminator {
		t.Error("record kinds share a discriminator")
	}
}

// ============================================================
// Position codec
// ============================================================

func samplePosition() *account.Position {
	return &account.Position{
		Owner:             addr(0x11),
		Symbol:            "SOL-PERP",
		Size:              100_000_000,
		Collateral:        1_000_000_000,
		EntryPrice:        20_000_000,
		Leverage:          2,
		MaintenanceMargin: 100_000_000,
	}
}

func TestPosition_RoundTrip(t *testing.T) {
	want := samplePosition()
	want.Size = -want.Size // short side survives the uint64 transit

	data, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != account.PositionSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), account.PositionSize)
	}

	got, err := account.DecodePosition(data)
	if err != nil {
		t.Fatalf("DecodePosition: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestPosition_ByteLayout(t *testing.T) {
	p := samplePosition()
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if !bytes.Equal(data[0:8], account.PositionDiscriminator[:]) {
		t.Error("discriminator not at offset 0")
	}
	if !bytes.Equal(data[8:40], p.Owner[:]) {
		t.Error("owner not at offset 8")
	}
	if got := string(bytes.TrimRight(data[40:72], "\x00")); got != p.Symbol {
		t.Errorf("symbol field %q, want %q", got, p.Symbol)
	}
	if got := int64(binary.LittleEndian.Uint64(data[72:80])); got != p.Size {
		t.Errorf("size field %d, want %d", got, p.Size)
	}
	if got := int64(binary.LittleEndian.Uint64(data[80:88])); got != p.Collateral {
		t.Errorf("collateral field %d, want %d", got, p.Collateral)
	}
	if got := int64(binary.LittleEndian.Uint64(data[88:96])); got != p.EntryPrice {
		t.Errorf("entry price field %d, want %d", got, p.EntryPrice)
	}
	if got := binary.LittleEndian.Uint16(data[96:98]); got != p.Leverage {
		t.Errorf("leverage field %d, want %d", got, p.Leverage)
	}
	if got := int64(binary.LittleEndian.Uint64(data[98:106])); got != p.MaintenanceMargin {
		t.Errorf("maintenance margin field %d, want %d", got, p.MaintenanceMargin)
	}
}

func TestPosition_SymbolWidth(t *testing.T) {
	p := samplePosition()
	p.Symbol = strings.Repeat("A", account.SymbolWidth)
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode at exact width: %v", err)
	}
	got, err := account.DecodePosition(data)
	if err != nil {
		t.Fatalf("DecodePosition: %v", err)
	}
	if got.Symbol != p.Symbol {
		t.Errorf("symbol %q, want %q", got.Symbol, p.Symbol)
	}

	p.Symbol = strings.Repeat("A", account.SymbolWidth+1)
	if _, err := p.Encode(); !errors.Is(err, account.ErrFieldTooLong) {
		t.Errorf("oversized symbol: got %v, want ErrFieldTooLong", err)
	}
}

func TestDecodePosition_Errors(t *testing.T) {
	valid, err := samplePosition().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, account.ErrTruncatedAccount},
		{"short_discriminator", valid[:4], account.ErrTruncatedAccount},
		{"truncated_body", valid[:account.PositionSize-1], account.ErrTruncatedAccount},
		{"wrong_kind", fundBytes(t), account.ErrUnknownAccountKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := account.DecodePosition(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPosition_StateHelpers(t *testing.T) {
	p := samplePosition()
	if !p.IsOpen() || p.SideSign() != 1 {
		t.Errorf("long position: IsOpen=%v SideSign=%d", p.IsOpen(), p.SideSign())
	}
	p.Size = -p.Size
	if !p.IsOpen() || p.SideSign() != -1 {
		t.Errorf("short position: IsOpen=%v SideSign=%d", p.IsOpen(), p.SideSign())
	}
	p.Size = 0
	if p.IsOpen() || p.SideSign() != 0 {
		t.Errorf("inert position: IsOpen=%v SideSign=%d", p.IsOpen(), p.SideSign())
	}
}

// ============================================================
// Insurance fund codec
// ============================================================

func sampleFund() *account.InsuranceFund {
	return &account.InsuranceFund{
		Authority:           addr(0x77),
		Balance:             150_000_000,
		TotalContributions:  500_000_000,
		TotalBadDebtCovered: 350_000_000,
		UtilizationRatio:    700_000,
	}
}

func fundBytes(t *testing.T) []byte {
	t.Helper()
	data, err := sampleFund().Encode()
	if err != nil {
		t.Fatalf("Encode fund: %v", err)
	}
	return data
}

func TestInsuranceFund_RoundTrip(t *testing.T) {
	want := sampleFund()
	data, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != account.InsuranceFundSize {
		t.Fatalf("encoded %d bytes, want %d", len(data), account.InsuranceFundSize)
	}

	got, err := account.DecodeInsuranceFund(data)
	if err != nil {
		t.Fatalf("DecodeInsuranceFund: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestDecodeInsuranceFund_Errors(t *testing.T) {
	data := fundBytes(t)

	if _, err := account.DecodeInsuranceFund(data[:account.InsuranceFundSize-1]); !errors.Is(err, account.ErrTruncatedAccount) {
		t.Errorf("truncated: got %v, want ErrTruncatedAccount", err)
	}

	posData, err := samplePosition().Encode()
	if err != nil {
		t.Fatalf("Encode position: %v", err)
	}
	if _, err := account.DecodeInsuranceFund(posData); !errors.Is(err, account.ErrUnknownAccountKind) {
		t.Errorf("wrong kind: got %v, want ErrUnknownAccountKind", err)
	}
}

// ============================================================
// Blob classification
// ============================================================

func TestDecodeAny(t *testing.T) {
	posData, err := samplePosition().Encode()
	if err != nil {
		t.Fatalf("Encode position: %v", err)
	}

	dec, err := account.DecodeAny(posData)
	if err != nil {
		t.Fatalf("DecodeAny(position): %v", err)
	}
	if dec.Kind != account.KindPosition || dec.Position == nil || dec.InsuranceFund != nil {
		t.Errorf("position blob classified as %+v", dec)
	}

	dec, err = account.DecodeAny(fundBytes(t))
	if err != nil {
		t.Fatalf("DecodeAny(fund): %v", err)
	}
	if dec.Kind != account.KindInsuranceFund || dec.InsuranceFund == nil || dec.Position != nil {
		t.Errorf("fund blob classified as %+v", dec)
	}

	garbage := make([]byte, account.PositionSize)
	for i := range garbage {
		garbage[i] = 0xAB
	}
	if _, err := account.DecodeAny(garbage); !errors.Is(err, account.ErrUnknownAccountKind) {
		t.Errorf("garbage blob: got %v, want ErrUnknownAccountKind", err)
	}
	if _, err := account.DecodeAny([]byte{1, 2, 3}); !errors.Is(err, account.ErrTruncatedAccount) {
		t.Errorf("tiny blob: got %v, want ErrTruncatedAccount", err)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind account.Kind
		want string
	}{
		{account.KindPosition, "Position"},
		{account.KindInsuranceFund, "InsuranceFund"},
		{account.KindUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func addr(tag byte) derive.Address {
	var a derive.Address
	for i := range a {
		a[i] = tag
	}
	return a
}
