package network

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/multiformats/go-varint"

	"github.com/umbra-exchange/umbra/internal/swap"
)

func TestQuoteRequestRoundTrip(t *testing.T) {
	amount := btcutil.Amount(100_000_000)
	req := &QuoteRequest{FromBtc: &amount}

	var buf bytes.Buffer
	if err := WriteQuoteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}

	got, err := ReadQuoteRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.FromBtc == nil || *got.FromBtc != amount {
		t.Errorf("FromBtc = %v, want %v", got.FromBtc, amount)
	}
	if got.FromXmr != nil {
		t.Errorf("FromXmr = %v, want nil", got.FromXmr)
	}
}

func TestQuoteResponseRoundTrip(t *testing.T) {
	resp := &QuoteResponse{
		Params: swap.Params{
			BtcAmount: btcutil.Amount(50_000_000),
			XmrAmount: swap.MoneroAmount(7_500_000_000_000),
		},
	}

	var buf bytes.Buffer
	if err := WriteQuoteResponse(&buf, resp); err != nil {
		t.Fatal(err)
	}

	got, err := ReadQuoteResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Params != resp.Params {
		t.Errorf("Params = %v, want %v", got.Params, resp.Params)
	}
}

func TestQuoteRequestExactlyOneAmount(t *testing.T) {
	btc := btcutil.Amount(1)
	xmr := swap.MoneroAmount(1)

	for name, req := range map[string]*QuoteRequest{
		"none": {},
		"both": {FromBtc: &btc, FromXmr: &xmr},
	} {
		var buf bytes.Buffer
		if err := WriteQuoteRequest(&buf, req); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	// A prefix declaring a payload past the limit must be rejected before
	// any payload is read.
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(maxFrameSize))

	var req QuoteRequest
	err := readFrame(&buf, &req)
	if !errors.Is(err, ErrOversizedFrame) {
		t.Errorf("err = %v, want ErrOversizedFrame", err)
	}
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	big := make([]byte, maxFrameSize)
	for i := range big {
		big[i] = 'a'
	}

	var buf bytes.Buffer
	err := writeFrame(&buf, string(big))
	if !errors.Is(err, ErrOversizedFrame) {
		t.Errorf("err = %v, want ErrOversizedFrame", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized write left %d bytes on the wire", buf.Len())
	}
}

func TestReadFrameRejectsMalformedJSON(t *testing.T) {
	body := []byte("{not json")
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(uint64(len(body))))
	buf.Write(body)

	var resp QuoteResponse
	if err := readFrame(&buf, &resp); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestReadFrameStopsAtBoundary(t *testing.T) {
	// Two back-to-back messages on one stream must decode independently;
	// the varint reader may not buffer past the first frame.
	xmr := swap.MoneroAmount(42)
	var buf bytes.Buffer
	if err := WriteQuoteRequest(&buf, &QuoteRequest{FromXmr: &xmr}); err != nil {
		t.Fatal(err)
	}
	btc := btcutil.Amount(7)
	if err := WriteQuoteRequest(&buf, &QuoteRequest{FromBtc: &btc}); err != nil {
		t.Fatal(err)
	}

	first, err := ReadQuoteRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromXmr == nil || *first.FromXmr != xmr {
		t.Errorf("first.FromXmr = %v, want %v", first.FromXmr, xmr)
	}

	second, err := ReadQuoteRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if second.FromBtc == nil || *second.FromBtc != btc {
		t.Errorf("second.FromBtc = %v, want %v", second.FromBtc, btc)
	}
}
