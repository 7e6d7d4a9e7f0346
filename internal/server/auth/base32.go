package auth

import "strings"

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

var base32Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base32Alphabet); i++ {
		idx[base32Alphabet[i]] = int8(i)
	}
	return idx
}()

// DecodeBase32 decodes an RFC 4648 base32 string the way authenticator apps
// accept secrets: input is upper-cased, characters outside the alphabet
// (padding, spaces, dashes) are skipped and trailing bits that do not fill a
// whole byte are dropped.
func DecodeBase32(data string) []byte {
	data = strings.ToUpper(data)

	out := make([]byte, 0, len(data)*5/8)
	var buffer uint32
	var bits uint

	for i := 0; i < len(data); i++ {
		v := base32Index[data[i]]
		if v < 0 {
			continue
		}
		buffer = buffer<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buffer>>bits))
			buffer &= 1<<bits - 1
		}
	}
	return out
}
