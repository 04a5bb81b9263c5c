// Package account defines the two record kinds the engine manages and
// their fixed-offset binary layout. The first 8 bytes of every record are
// a content-derived discriminator so an unindexed scan can classify blobs
// without per-account metadata.
package account

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"LiqGuard/internal/derive"
)

var (
	// ErrUnknownAccountKind is returned when a blob's discriminator matches
	// no known record kind.
	ErrUnknownAccountKind = errors.New("unknown account kind")

	// ErrTruncatedAccount is returned when a blob is shorter than the
	// fixed record size for its matched kind.
	ErrTruncatedAccount = errors.New("truncated account data")

	// ErrFieldTooLong is returned when a string field exceeds its fixed
	// width at encode time. Inputs are rejected, never silently truncated.
	ErrFieldTooLong = errors.New("field exceeds fixed width")
)

// SymbolWidth is the fixed width of the symbol field, null-padded.
const SymbolWidth = 32

// Fixed record sizes including the 8-byte discriminator.
const (
	// disc(8) + owner(32) + symbol(32) + size(8) + collateral(8) +
	// entry_price(8) + leverage(2) + maintenance_margin(8)
	PositionSize = 8 + 32 + SymbolWidth + 8 + 8 + 8 + 2 + 8

	// disc(8) + authority(32) + balance(8) + total_contributions(8) +
	// total_bad_debt_covered(8) + utilization_ratio(8)
	InsuranceFundSize = 8 + 32 + 8 + 8 + 8 + 8
)

// Position is a user's collateralized position in one market symbol.
// While Size != 0 the position is open; Size == 0 marks it liquidated or
// closed and the record is thereafter inert.
type Position struct {
	Owner      derive.Address
	Symbol     string
	Size       int64 // quantity, 6 decimals, signed (negative = short)
	Collateral int64 // deposited margin, 6 decimals, >= 0 while open
	EntryPrice int64 // 6 decimals
	Leverage   uint16

	// MaintenanceMargin is a display/risk-classification snapshot taken at
	// open time (notional / 20). It is never re-derived and plays no part
	// in the health computation.
	MaintenanceMargin int64
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.Size != 0
}

// SideSign returns +1 for long, -1 for short, 0 for inert.
func (p *Position) SideSign() int64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	default:
		return 0
	}
}

// InsuranceFund is the singleton shared reserve that absorbs bad debt.
// Balance never goes negative: coverage is clamped at the available
// balance and the remainder is surfaced as an unrecovered deficit.
type InsuranceFund struct {
	Authority           derive.Address
	Balance             int64 // 6 decimals, >= 0 always
	TotalContributions  int64
	TotalBadDebtCovered int64
	UtilizationRatio    int64 // basis points, display only
}

// Encode serializes the position as discriminator || fixed-offset fields.
func (p *Position) Encode() ([]byte, error) {
	if len(p.Symbol) > SymbolWidth {
		return nil, fmt.Errorf("symbol %q is %d bytes, max %d: %w",
			p.Symbol, len(p.Symbol), SymbolWidth, ErrFieldTooLong)
	}

	buf := make([]byte, PositionSize)
	copy(buf[0:8], PositionDiscriminator[:])
	copy(buf[8:40], p.Owner[:])
	copy(buf[40:40+SymbolWidth], p.Symbol) // remainder stays null padding
	binary.LittleEndian.PutUint64(buf[72:80], uint64(p.Size))
	binary.LittleEndian.PutUint64(buf[80:88], uint64(p.Collateral))
	binary.LittleEndian.PutUint64(buf[88:96], uint64(p.EntryPrice))
	binary.LittleEndian.PutUint16(buf[96:98], p.Leverage)
	binary.LittleEndian.PutUint64(buf[98:106], uint64(p.MaintenanceMargin))

	return buf, nil
}

// DecodePosition decodes a blob previously produced by Position.Encode.
// The discriminator must match; trailing null padding of the symbol field
// is trimmed when producing the logical string.
func DecodePosition(data []byte) (*Position, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrTruncatedAccount)
	}
	if !bytes.Equal(data[0:8], PositionDiscriminator[:]) {
		return nil, ErrUnknownAccountKind
	}
	if len(data) < PositionSize {
		return nil, fmt.Errorf("position record %d bytes, want %d: %w",
			len(data), PositionSize, ErrTruncatedAccount)
	}

	p := &Position{}
	copy(p.Owner[:], data[8:40])
	p.Symbol = string(bytes.TrimRight(data[40:40+SymbolWidth], "\x00"))
	p.Size = int64(binary.LittleEndian.Uint64(data[72:80]))
	p.Collateral = int64(binary.LittleEndian.Uint64(data[80:88]))
	p.EntryPrice = int64(binary.LittleEndian.Uint64(data[88:96]))
	p.Leverage = binary.LittleEndian.Uint16(data[96:98])
	p.MaintenanceMargin = int64(binary.LittleEndian.Uint64(data[98:106]))

	return p, nil
}

// Encode serializes the fund as discriminator || fixed-offset fields.
func (f *InsuranceFund) Encode() ([]byte, error) {
	buf := make([]byte, InsuranceFundSize)
	copy(buf[0:8], InsuranceFundDiscriminator[:])
	copy(buf[8:40], f.Authority[:])
	binary.LittleEndian.PutUint64(buf[40:48], uint64(f.Balance))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(f.TotalContributions))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(f.TotalBadDebtCovered))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(f.UtilizationRatio))
	return buf, nil
}

// DecodeInsuranceFund decodes a blob previously produced by
// InsuranceFund.Encode.
func DecodeInsuranceFund(data []byte) (*InsuranceFund, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrTruncatedAccount)
	}
	if !bytes.Equal(data[0:8], InsuranceFundDiscriminator[:]) {
		return nil, ErrUnknownAccountKind
	}
	if len(data) < InsuranceFundSize {
		return nil, fmt.Errorf("insurance fund record %d bytes, want %d: %w",
			len(data), InsuranceFundSize, ErrTruncatedAccount)
	}

	f := &InsuranceFund{}
	copy(f.Authority[:], data[8:40])
	f.Balance = int64(binary.LittleEndian.Uint64(data[40:48]))
	f.TotalContributions = int64(binary.LittleEndian.Uint64(data[48:56]))
	f.TotalBadDebtCovered = int64(binary.LittleEndian.Uint64(data[56:64]))
	f.UtilizationRatio = int64(binary.LittleEndian.Uint64(data[64:72]))

	return f, nil
}

// Kind identifies a decoded record variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindPosition
	KindInsuranceFund
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "Position"
	case KindInsuranceFund:
		return "InsuranceFund"
	default:
		return "Unknown"
	}
}

// Decoded is the tagged-variant result of classifying an opaque blob.
// Exactly one of Position / InsuranceFund is non-nil, matching Kind.
type Decoded struct {
	Kind          Kind
	Position      *Position
	InsuranceFund *InsuranceFund
}

// DecodeAny classifies a blob by its leading discriminator and decodes the
// matched kind. Unknown tags are a distinct error, never a best-effort
// guess.
func DecodeAny(data []byte) (*Decoded, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrTruncatedAccount)
	}

	switch {
	case bytes.Equal(data[0:8], PositionDiscriminator[:]):
		p, err := DecodePosition(data)
		if err != nil {
			return nil, err
		}
		return &Decoded{Kind: KindPosition, Position: p}, nil

	case bytes.Equal(data[0:8], InsuranceFundDiscriminator[:]):
		f, err := DecodeInsuranceFund(data)
		if err != nil {
			return nil, err
		}
		return &Decoded{Kind: KindInsuranceFund, InsuranceFund: f}, nil

	default:
		return nil, ErrUnknownAccountKind
	}
}
