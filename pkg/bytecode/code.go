package bytecode

import "encoding/binary"

// Code is an append-only byte buffer holding emitted instructions.
// Forward jumps are emitted with a zero placeholder and fixed up with
// Patch32 once the target offset is known.
type Code struct {
	Buf []byte
}

// PC returns the offset the next emitted byte will occupy.
func (c *Code) PC() int {
	return len(c.Buf)
}

// EmitOp appends an opcode byte.
func (c *Code) EmitOp(op Op) {
	c.Buf = append(c.Buf, byte(op))
}

// EmitI64 appends a little-endian 64-bit immediate.
func (c *Code) EmitI64(v int64) {
	c.Buf = binary.LittleEndian.AppendUint64(c.Buf, uint64(v))
}

// EmitU32 appends a little-endian 32-bit immediate.
func (c *Code) EmitU32(v uint32) {
	c.Buf = binary.LittleEndian.AppendUint32(c.Buf, v)
}

// Patch32 overwrites the four bytes at a previously recorded position.
func (c *Code) Patch32(at int, v uint32) {
	binary.LittleEndian.PutUint32(c.Buf[at:at+4], v)
}

// U32At reads the 32-bit immediate at the given offset.
func U32At(code []byte, at int) uint32 {
	return binary.LittleEndian.Uint32(code[at : at+4])
}

// I64At reads the 64-bit immediate at the given offset.
func I64At(code []byte, at int) int64 {
	return int64(binary.LittleEndian.Uint64(code[at : at+8]))
}
