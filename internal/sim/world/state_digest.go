package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"remansim/internal/sim/catalogs"
)

// StateDigest hashes the complete simulation state: clock, counts, producer
// stocks and counters, every customer in registration order, and the number
// of queued messages. Two runs agree on every digest iff they agree on state.
func (w *World) StateDigest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteI64(h, &tmp, int64(w.now))
	digestWriteI64(h, &tmp, int64(len(w.active)))
	w.digestCounts(h, &tmp)
	for _, o := range w.producers {
		w.digestOEM(h, &tmp, o)
	}
	for _, c := range w.customers {
		digestWriteI64(h, &tmp, int64(c.id))
		h.Write([]byte{byte(c.state), byte(c.active), boolByte(c.hasActive)})
		digestWriteI64(h, &tmp, int64(c.deliveryDay))
		digestWriteI64(h, &tmp, int64(c.endOfLifeDay))
		digestWriteI64(h, &tmp, int64(c.endOfPatienceDay))
	}
	digestWriteI64(h, &tmp, int64(len(w.inbox)))

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestCounts(h hashWriter, tmp *[8]byte) {
	digestWriteI64(h, tmp, int64(w.counts.PotentialUsers))
	digestWriteI64(h, tmp, int64(w.counts.WantsAny))
	for _, p := range catalogs.All {
		digestWriteI64(h, tmp, int64(w.counts.Wants[p]))
		digestWriteI64(h, tmp, int64(w.counts.Uses[p]))
	}
}

func (w *World) digestOEM(h hashWriter, tmp *[8]byte, o *OEM) {
	digestWriteI64(h, tmp, int64(o.id))
	digestWriteF64(h, tmp, o.coreStock)
	for _, p := range catalogs.All {
		digestWriteF64(h, tmp, o.factoryStock[p])
		digestWriteF64(h, tmp, o.productionRate[p])
		digestWriteF64(h, tmp, o.totalProduced[p])
		digestWriteI64(h, tmp, int64(o.productsSold[p]))
	}
	digestWriteI64(h, tmp, int64(o.coresCollected))
	digestWriteI64(h, tmp, int64(o.coresRejected))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
