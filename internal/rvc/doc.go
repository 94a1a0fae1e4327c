// Package rvc implements the RV-C protocol codec.
//
// RV-C is a CAN-based network protocol (derived from SAE J1939 / ISO 11783)
// used for house systems in recreational vehicles. Messages are grouped by
// Data Group Number (DGN), a 17-bit identifier embedded in the 29-bit
// extended CAN arbitration ID. Each DGN carries a fixed layout of named
// signals packed little-endian into up to 8 payload bytes.
//
// The package provides:
//   - Frame: a raw CAN frame with arbitration ID split/build helpers
//   - SpecTable: the immutable, validated index of message definitions
//     loaded once at startup from a YAML protocol specification
//   - Decode: raw frame -> named, scaled, typed signal values
//   - EncodeSignals: the exact inverse, packing values into payload bytes
//
// Decode never returns an error for bus data: unknown DGNs and short
// payloads produce best-effort results flagged on the DecodedFrame so the
// ingestion pipeline can count them as diagnostics and keep running.
package rvc
