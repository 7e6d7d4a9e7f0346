package common

// WipeByteArray zeroes b in place. Nil is a no-op. Used for passwords read
// from a terminal once they have been hashed.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
