package secrets

import "golang.org/x/crypto/curve25519"

// curve25519ScalarBaseMult derives the Curve25519 public key matching
// priv, the same base-point multiplication nacl/box's GenerateKey runs
// internally on a random private scalar. Here priv comes from Argon2id
// instead of crypto/rand, which is what makes the keypair reproducible
// from a passphrase and salt alone.
func curve25519ScalarBaseMult(pub, priv *[32]byte) {
	curve25519.ScalarBaseMult(pub, priv)
}
