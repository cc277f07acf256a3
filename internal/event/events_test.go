package event

import (
	"encoding/json"
	"testing"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/market"
)

func TestDecode_RoundTrip(t *testing.T) {
	var seller, asset, m domain.Pubkey
	seller[0], asset[0], m[0] = 1, 2, 3

	ev := &ListEvent{
		BaseEvent: BaseEvent{Seq: 7, Ts: 1000, Signer: seller, Nonce: 3},
		ListArgs:  market.ListArgs{Marketplace: m, Asset: asset, Price: 18446744073709551615},
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(EvList, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	le, ok := got.(*ListEvent)
	if !ok {
		t.Fatalf("expected *ListEvent, got %T", got)
	}
	if *le != *ev {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", le, ev)
	}
}

func TestDecode_OutOfRangeFeeRate(t *testing.T) {
	for _, payload := range []string{
		`{"name":"x","fee_bps":70000}`,
		`{"name":"x","fee_bps":-1}`,
		`{"name":"x","fee_bps":65536}`,
	} {
		ev, err := Decode(EvInit, []byte(payload))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", payload, err)
		}
		ie := ev.(*InitEvent)
		if _, ok := ie.FeeBasisPoints.BasisPoints(); ok {
			t.Errorf("%s decoded to an accepted rate %d", payload, ie.FeeBasisPoints)
		}
	}
}

func TestNew_AllTypes(t *testing.T) {
	for typ := EvInit; typ <= EvVerifyCollection; typ++ {
		ev, err := New(typ)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", typ, err)
		}
		if ev.GetType() != typ {
			t.Errorf("New(%s).GetType() = %s", typ, ev.GetType())
		}
		parsed, err := ParseType(typ.String())
		if err != nil || parsed != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ.String(), parsed, err)
		}
	}

	if _, err := New(Type(99)); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Decode(EvInit, []byte("{")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestBase_Stamp(t *testing.T) {
	var ev Event = &PurchaseEvent{}
	ev.Base().Seq = 42
	ev.Base().Ts = 99
	if ev.GetSeq() != 42 || ev.GetTs() != 99 {
		t.Errorf("stamp not visible: seq=%d ts=%d", ev.GetSeq(), ev.GetTs())
	}
	ctx := ev.Base().Context()
	if ctx.Seq != 42 {
		t.Errorf("context seq = %d", ctx.Seq)
	}
}
