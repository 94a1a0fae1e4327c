package rvc

import (
	"fmt"
	"time"
)

// Arbitration ID layout constants.
//
// RV-C uses the 29-bit extended CAN identifier, laid out as:
//
//	Bits 26-28: priority (0 = highest, 7 = lowest)
//	Bit  25:    reserved (always 0 on RV-C networks)
//	Bits 8-24:  DGN (data page + PDU format + PDU specific, 17 bits)
//	Bits 0-7:   source address of the transmitting node
const (
	// MaxExtendedID is the largest legal 29-bit identifier.
	MaxExtendedID = 0x1FFFFFFF

	// MaxDataLen is the classical CAN payload limit.
	MaxDataLen = 8

	// MaxDGN is the largest legal 17-bit Data Group Number.
	MaxDGN = 0x1FFFF

	priorityShift = 26
	priorityMask  = 0x7

	dgnShift = 8
	dgnMask  = MaxDGN

	sourceMask = 0xFF
)

// DefaultPriority is used for outbound command frames.
// RV-C recommends priority 6 for normal operational commands.
const DefaultPriority uint8 = 6

// Frame is one raw CAN frame as received from or destined to a bus
// interface. Data holds up to 8 payload bytes; a shorter slice is a
// short frame, not an error.
type Frame struct {
	// ID is the 29-bit extended arbitration identifier.
	ID uint32

	// Data is the payload (0-8 bytes).
	Data []byte

	// Interface is the tag of the physical bus this frame was seen on
	// or should be sent to (e.g. "house", "chassis").
	Interface string

	// Timestamp records when the frame was received or created.
	Timestamp time.Time
}

// Validate returns ErrInvalidFrame if the frame cannot appear on an
// RV-C network.
func (f Frame) Validate() error {
	if f.ID > MaxExtendedID {
		return fmt.Errorf("%w: identifier 0x%X exceeds 29 bits", ErrInvalidFrame, f.ID)
	}
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: payload length %d exceeds %d bytes", ErrInvalidFrame, len(f.Data), MaxDataLen)
	}
	return nil
}

// SplitID extracts the priority, DGN and source address from a 29-bit
// extended arbitration identifier.
func SplitID(id uint32) (priority uint8, dgn uint32, source uint8) {
	priority = uint8((id >> priorityShift) & priorityMask)
	dgn = (id >> dgnShift) & dgnMask
	source = uint8(id & sourceMask)
	return priority, dgn, source
}

// BuildID composes a 29-bit extended arbitration identifier from its
// parts. The exact inverse of SplitID.
func BuildID(priority uint8, dgn uint32, source uint8) uint32 {
	return (uint32(priority&priorityMask) << priorityShift) |
		((dgn & dgnMask) << dgnShift) |
		uint32(source)
}

// DGN returns the frame's Data Group Number.
func (f Frame) DGN() uint32 {
	_, dgn, _ := SplitID(f.ID)
	return dgn
}

// SourceAddress returns the transmitting node's source address.
func (f Frame) SourceAddress() uint8 {
	_, _, src := SplitID(f.ID)
	return src
}

// Priority returns the frame's priority bits.
func (f Frame) Priority() uint8 {
	prio, _, _ := SplitID(f.ID)
	return prio
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{DGN:%05X, SA:%02X, Data:%X}", f.DGN(), f.SourceAddress(), f.Data)
}

// NewCommandFrame builds an outbound frame for the given DGN with the
// default command priority and source address.
func NewCommandFrame(dgn uint32, source uint8, data []byte, iface string) Frame {
	return Frame{
		ID:        BuildID(DefaultPriority, dgn, source),
		Data:      data,
		Interface: iface,
		Timestamp: time.Now(),
	}
}
