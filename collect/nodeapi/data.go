package nodeapi

const coin = 100000000

// MempoolEntry is the getrawmempool / getmempoolentry wire format (Bitcoin
// Core 0.17+, where the fee moved under the "fees" object).
type MempoolEntry struct {
	VSize_  int64 `json:"vsize"`
	Weight_ int64 `json:"weight"`
	Time_   int64 `json:"time"`
	Fees    struct {
		Base float64 `json:"base"` // BTC
	} `json:"fees"`
}

// SatPerVByte returns the entry's fee rate in sat/vbyte.
func (m *MempoolEntry) SatPerVByte() float64 {
	vsize := m.VSize_
	if vsize == 0 {
		// Pre-0.19 nodes report weight only; vsize = ceil(weight/4),
		// the float division is close enough for bucketing.
		vsize = m.Weight_ / 4
	}
	if vsize <= 0 {
		// Malformed entry; a zero rate fails ingestion validation.
		return 0
	}
	return m.Fees.Base * coin / float64(vsize)
}
