package game

import "math/rand/v2"

// CodeGenerator produces candidate room codes. The manager checks each
// candidate against live rooms, so Generate does not need to guarantee
// uniqueness itself.
type CodeGenerator interface {
	Generate() string
}

const roomCodeLength = 8

// Ambiguous glyphs (0, O, 1, I) are excluded so codes survive being
// read aloud or retyped from a shared screenshot.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type codeGen struct{}

func NewCodeGen() codeGen {
	return codeGen{}
}

func (codeGen) Generate() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
	}
	return string(code)
}
