// Package derive computes deterministic storage addresses from seed values
// and a program (namespace) identity. No registry lookup is required: any
// party holding the same seeds derives the same address.
package derive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLen is the byte length of every derived address.
const AddressLen = 32

// Address is a 32-byte account address. The zero value is not a valid
// address of any account.
type Address [AddressLen]byte

// String renders the address in base58, the conventional display form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != AddressLen {
		return a, fmt.Errorf("parse address %q: got %d bytes, want %d", s, len(raw), AddressLen)
	}
	copy(a[:], raw)
	return a, nil
}

// Seed tags for the two account kinds.
const (
	SeedPosition      = "position"
	SeedInsuranceFund = "insurance_fund"
)

// derivationDomain prefixes every address derivation so derived addresses
// can never collide with discriminators or other hashed artifacts.
const derivationDomain = "liqguard:pda:v1"

// ProgramID is the namespace identity under which all addresses are
// derived. It is computed once from a namespace string at startup and
// passed explicitly to every derivation.
type ProgramID Address

// NewProgramID derives the program identity from a namespace string.
func NewProgramID(namespace string) ProgramID {
	sum := sha256.Sum256([]byte("liqguard:program:" + namespace))
	return ProgramID(sum)
}

func (p ProgramID) String() string {
	return Address(p).String()
}

// Derive combines the program identity with length-prefixed seeds under a
// fixed domain tag. Length-prefixing keeps (owner, symbol) pairs injective:
// ("ab","c") and ("a","bc") hash differently.
func Derive(program ProgramID, seeds ...[]byte) Address {
	var buf bytes.Buffer
	buf.WriteString(derivationDomain)
	buf.Write(program[:])

	var lenBuf [4]byte
	for _, seed := range seeds {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		buf.Write(lenBuf[:])
		buf.Write(seed)
	}

	return Address(sha256.Sum256(buf.Bytes()))
}

// PositionAddress derives the canonical address for an owner's position
// in a market symbol.
func PositionAddress(program ProgramID, owner Address, symbol string) Address {
	return Derive(program, []byte(SeedPosition), owner[:], []byte(symbol))
}

// InsuranceFundAddress derives the singleton insurance fund address.
// There is no per-user variation: the whole system shares one fund.
func InsuranceFundAddress(program ProgramID) Address {
	return Derive(program, []byte(SeedInsuranceFund))
}
