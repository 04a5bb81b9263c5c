package account

import "crypto/sha256"

// Discriminator is the 8-byte tag prefixed to every serialized record.
// It is the leading 8 bytes of SHA-256 over a namespaced ASCII string:
// "account:<Kind>" for record kinds, "global:<operation>" for operations.
type Discriminator [8]byte

// AccountDiscriminator computes the tag for a record kind.
func AccountDiscriminator(kind string) Discriminator {
	return discriminator("account:" + kind)
}

// InstructionDiscriminator computes the tag signaling an operation.
// Exposed for wire-compatibility checks against existing deployments.
func InstructionDiscriminator(name string) Discriminator {
	return discriminator("global:" + name)
}

func discriminator(s string) Discriminator {
	sum := sha256.Sum256([]byte(s))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

var (
	PositionDiscriminator      = AccountDiscriminator("Position")
	InsuranceFundDiscriminator = AccountDiscriminator("InsuranceFund")
)
