package nodeapi

import (
	"encoding/json"
	"testing"

	"github.com/joltfun/btcflow/testutil"
)

func TestMempoolEntry(t *testing.T) {
	// getmempoolentry result, Core 0.17+ "fees" object.
	const raw = `{
		"vsize": 141,
		"weight": 561,
		"time": 1693000000,
		"fees": {"base": 0.00000282}
	}`
	entry := new(MempoolEntry)
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(entry.Weight_, int64(561)); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(entry.Time_, int64(1693000000)); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckPctDiff(entry.SatPerVByte(), 2.0, 0.01); err != nil {
		t.Error(err)
	}
}

func TestMempoolEntryNoVSize(t *testing.T) {
	// Older nodes report weight but not vsize.
	const raw = `{"weight": 800, "time": 1693000000, "fees": {"base": 0.00000400}}`
	entry := new(MempoolEntry)
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckPctDiff(entry.SatPerVByte(), 2.0, 0.01); err != nil {
		t.Error(err)
	}
}

func TestMempoolEntryMalformed(t *testing.T) {
	// A weight below 4 WU floors to vsize 0; the rate must come out zero
	// (not Inf or NaN) so the record is dropped at validation.
	for _, raw := range []string{
		`{"weight": 3, "fees": {"base": 0.00000100}}`,
		`{"weight": 0, "fees": {"base": 0}}`,
	} {
		entry := new(MempoolEntry)
		if err := json.Unmarshal([]byte(raw), entry); err != nil {
			t.Fatal(err)
		}
		if err := testutil.CheckEqual(entry.SatPerVByte(), 0.0); err != nil {
			t.Error(err)
		}
	}
}
