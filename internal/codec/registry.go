package codec

import "adsbus/internal/packet"

// Names lists every format usable with --connect/--listen/--exec/--file,
// in the order they are printed by --list-formats.
var Names = []string{"auto", "raw", "beast", "airspy_adsb", "json", "proto", "stats"}

// Registered reports whether name is a known format.
func Registered(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// NewDecoder builds a parser for name, or (nil, false) if name has no
// receive-side parser (stats is send-only). localServerID is only
// consulted by formats that perform loop detection (json, proto, auto).
func NewDecoder(name string, localServerID packet.SourceID) (Decoder, bool) {
	switch name {
	case "auto":
		return NewAutoDetect(localServerID), true
	case "raw":
		return NewRawDecoder(), true
	case "beast":
		return NewBeastDecoder(), true
	case "airspy_adsb":
		return NewAirspyADSBDecoder(), true
	case "json":
		return NewJSONDecoder(localServerID), true
	case "proto":
		return NewProtoDecoder(localServerID), true
	default:
		return nil, false
	}
}

// NewEncoder builds a serializer for name, or (nil, false) if name has no
// send-side serializer ("auto" is receive-only) or is not a registered
// format. json and proto additionally need the canonical scale
// parameters to announce in their hello header.
func NewEncoder(name string, localServerID packet.SourceID, mhz uint16, max uint64, rssiMax uint32) (Encoder, bool) {
	switch name {
	case "raw":
		return NewRawEncoder(), true
	case "beast":
		return NewBeastEncoder(), true
	case "airspy_adsb":
		return NewAirspyADSBEncoder(), true
	case "json":
		return NewJSONEncoder(localServerID, mhz, max, rssiMax), true
	case "proto":
		return NewProtoEncoder(localServerID, mhz, max, rssiMax), true
	case "stats":
		return NewStatsEncoder(), true
	default:
		return nil, false
	}
}
