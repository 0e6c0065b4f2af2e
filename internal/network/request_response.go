package network

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/multiformats/go-varint"

	"github.com/umbra-exchange/umbra/internal/swap"
)

// QuoteProtocol identifies the quote request/response exchange on a stream.
const QuoteProtocol = "/umbra/swap/quote/1.0.0"

// ResponseTimeout is how long a requester waits for a quote before giving
// up. Quotes gate funds being locked, so the window is generous rather than
// snappy.
const ResponseTimeout = time.Hour

// maxFrameSize caps a single quote message on the wire, length prefix
// included. Anything larger is rejected before it is buffered.
const maxFrameSize = 1024

// QuoteRequest asks the remote maker to price a swap. Exactly one of the
// two amounts is set: FromBtc asks "how much XMR for this BTC", FromXmr the
// inverse.
type QuoteRequest struct {
	FromBtc *btcutil.Amount    `json:"from_btc,omitempty"`
	FromXmr *swap.MoneroAmount `json:"from_xmr,omitempty"`
}

func (r *QuoteRequest) validate() error {
	if (r.FromBtc == nil) == (r.FromXmr == nil) {
		return fmt.Errorf("%w: quote request must carry exactly one amount", ErrMalformed)
	}
	return nil
}

// QuoteResponse carries the maker's firm terms for the requested swap.
type QuoteResponse struct {
	Params swap.Params `json:"params"`
}

// WriteQuoteRequest frames and sends a quote request on the stream.
func WriteQuoteRequest(w io.Writer, req *QuoteRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	return writeFrame(w, req)
}

// ReadQuoteRequest reads one framed quote request from the stream.
func ReadQuoteRequest(r io.Reader) (*QuoteRequest, error) {
	var req QuoteRequest
	if err := readFrame(r, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteQuoteResponse frames and sends a quote response on the stream.
func WriteQuoteResponse(w io.Writer, resp *QuoteResponse) error {
	return writeFrame(w, resp)
}

// ReadQuoteResponse reads one framed quote response from the stream.
func ReadQuoteResponse(r io.Reader) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := readFrame(r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// writeFrame sends msg as a varint length prefix followed by its JSON
// encoding. The total frame, prefix included, must fit maxFrameSize.
func writeFrame(w io.Writer, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	prefix := varint.ToUvarint(uint64(len(body)))
	if len(prefix)+len(body) > maxFrameSize {
		return fmt.Errorf("%w: %d byte message exceeds %d byte frame limit",
			ErrOversizedFrame, len(prefix)+len(body), maxFrameSize)
	}

	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON message into msg, refusing
// oversized frames before buffering their payload.
func readFrame(r io.Reader, msg interface{}) error {
	length, prefixLen, err := readUvarint(r)
	if err != nil {
		return err
	}
	if uint64(prefixLen)+length > maxFrameSize {
		return fmt.Errorf("%w: %d byte frame exceeds %d byte limit",
			ErrOversizedFrame, uint64(prefixLen)+length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if err := json.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// readUvarint decodes a varint byte by byte so no payload bytes are
// consumed past the prefix.
func readUvarint(r io.Reader) (uint64, int, error) {
	var buf [1]byte
	var raw []byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, fmt.Errorf("read frame prefix: %w", err)
		}
		raw = append(raw, buf[0])
		if buf[0]&0x80 == 0 {
			break
		}
		if len(raw) >= varint.MaxLenUvarint63 {
			return 0, 0, fmt.Errorf("%w: length prefix too long", ErrMalformed)
		}
	}
	length, _, err := varint.FromUvarint(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return length, len(raw), nil
}
