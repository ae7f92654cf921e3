package sketch

import (
	"encoding/binary"
	"crypto/rand"
)

// randSeed draws a uniform uint32, matching the reference trainer's
// std::uniform_int_distribution<uint32_t>(0, UINT_MAX) seed generator.
// crypto/rand is used purely as a convenient source of entropy at
// construction time; nothing downstream requires cryptographic strength.
func randSeed() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("sketch: failed to draw random seed: " + err.Error())
	}
	return binary.LittleEndian.Uint32(buf[:])
}
