package codec

import (
	"encoding/json"
	"time"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

// statsEmitEvery controls how often the stats serializer produces a
// snapshot line: once for every this-many packets it has seen.
const statsEmitEvery = 1000

type statsSnapshot struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	PacketCounts  map[string]uint64 `json:"packet_counts"`
}

// stats is a send-only, output-only serializer: it never decodes anything
// and Encode emits a line only once every statsEmitEvery packets it has
// counted, regardless of how many distinct subscribers are reading its
// output.
type stats struct {
	start  time.Time
	total  uint64
	counts map[packet.Type]uint64
}

// NewStatsEncoder returns a fresh stats serializer. Its uptime clock starts
// at construction time, which happens once per process at startup.
func NewStatsEncoder() Encoder {
	return &stats{start: time.Now(), counts: make(map[packet.Type]uint64, 3)}
}

func (*stats) Name() string { return "stats" }

func (s *stats) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	if pkt == nil || pkt.Type == packet.TypeNone {
		return
	}
	s.total++
	s.counts[pkt.Type]++
	if s.total%statsEmitEvery != 0 {
		return
	}
	snap := statsSnapshot{
		UptimeSeconds: int64(time.Since(s.start) / time.Second),
		PacketCounts:  make(map[string]uint64, len(s.counts)),
	}
	for typ, n := range s.counts {
		snap.PacketCounts[typ.WireName()] = n
	}
	line, err := json.Marshal(snap)
	if err != nil {
		return
	}
	line = append(line, '\n')
	appendBytes(buf, line)
}
