package framebundle

import (
	"bytes"
	"hash"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	fieldSep  = 0x1f
	recordSep = 0x1e
)

// Digest returns the BLAKE2b-256 hash of the canonical encoding of both
// history tables.
func Digest(swaps []SwapEntry, discards []DiscardEntry) []byte {
	h, _ := blake2b.New256(nil)
	writeRecord(h, "swaps", strconv.Itoa(len(swaps)))
	for _, s := range swaps {
		writeRecord(h, stamp(s.SwapDate), s.CounterpartFrame, s.SwappedBy, s.OldBattery, s.NewBattery)
	}
	writeRecord(h, "discards", strconv.Itoa(len(discards)))
	for _, d := range discards {
		writeRecord(h, stamp(d.DiscardDate), d.BatterySerialNo, d.DiscardedBy, d.Reason)
	}
	return h.Sum(nil)
}

// HistoryIntact reports whether the bundle's rows match its stored digest.
// A bundle with no stored digest is treated as having empty history.
func HistoryIntact(b Bundle) bool {
	stored := b.HistoryDigest
	if len(stored) == 0 {
		stored = Digest(nil, nil)
	}
	return bytes.Equal(stored, Digest(b.SwapHistory, b.DiscardHistory))
}

func stamp(t time.Time) string {
	return ledgerTime(t).Format(time.RFC3339Nano)
}

func writeRecord(h hash.Hash, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{fieldSep})
		}
		h.Write([]byte(f))
	}
	h.Write([]byte{recordSep})
}
