package transport

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/U-interrupt/sel4service/internal/wire"
	"github.com/U-interrupt/sel4service/metrics"
)

// mailbox states, stored in the shared page's first byte.
const (
	mbEmpty    = 0
	mbRequest  = 1
	mbResponse = 2
)

const respRegionSize = 4 + 8 + wire.MaxPayload // label + ret + payload
const reqRegionSize = wire.HeaderSize + wire.MaxPayload

// Polled implements the polled shared-memory queue discipline: a
// single-slot mailbox in a mmap'd SharedPage, guarded by a spinlock
// (an atomic CAS loop standing in for a hardware test-and-set
// instruction) rather than a blocking primitive, since neither side
// can rely on the other to deliver a wakeup. The server side's poll
// rate is bounded by golang.org/x/time/rate so a busy client can't
// burn the host CPU the way an unbounded spin would.
type Polled struct {
	page *SharedPage

	lock atomic.Bool

	limiter *rate.Limiter
}

// NewPolled allocates the mailbox's backing shared page.
func NewPolled() (*Polled, error) {
	page, err := NewSharedPage(1 + reqRegionSize + respRegionSize)
	if err != nil {
		return nil, err
	}
	return &Polled{
		page:    page,
		limiter: rate.NewLimiter(rate.Every(50*time.Microsecond), 1),
	}, nil
}

func (p *Polled) spinLock() {
	for !p.lock.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (p *Polled) spinUnlock() {
	p.lock.Store(false)
}

func (p *Polled) reqRegion() []byte  { return p.page.Bytes()[1 : 1+reqRegionSize] }
func (p *Polled) respRegion() []byte { return p.page.Bytes()[1+reqRegionSize:] }

// Call implements Transport: post the request into the mailbox, then
// spin until the server has posted a response.
func (p *Polled) Call(req *wire.Request) (*wire.Response, error) {
	p.spinLock()
	encodeRequest(p.reqRegion(), req)
	p.page.Bytes()[0] = mbRequest
	p.spinUnlock()
	metrics.TransportMessages.WithLabelValues("polled", "send").Inc()

	for {
		p.spinLock()
		if p.page.Bytes()[0] == mbResponse {
			resp := decodeResponse(p.respRegion())
			p.page.Bytes()[0] = mbEmpty
			p.spinUnlock()
			metrics.TransportMessages.WithLabelValues("polled", "recv").Inc()
			return resp, nil
		}
		p.spinUnlock()
		runtime.Gosched()
	}
}

// Serve polls the mailbox at a rate bounded by the limiter, handling
// one request per successful poll, until ctx is cancelled.
func (p *Polled) Serve(ctx context.Context, handle Handler) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		p.spinLock()
		if p.page.Bytes()[0] != mbRequest {
			p.spinUnlock()
			continue
		}
		req := decodeRequest(p.reqRegion())
		p.spinUnlock()

		resp := handle(req)

		p.spinLock()
		encodeResponse(p.respRegion(), resp)
		p.page.Bytes()[0] = mbResponse
		p.spinUnlock()
	}
}

// Close releases the mailbox's backing page.
func (p *Polled) Close() error {
	return p.page.Close()
}

func encodeRequest(dst []byte, req *wire.Request) {
	copy(dst, req.EncodeHeader())
	copy(dst[wire.HeaderSize:], req.Payload[:])
}

func decodeRequest(src []byte) *wire.Request {
	label, args := wire.DecodeHeader(src)
	req := &wire.Request{Label: label, Args: args}
	copy(req.Payload[:], src[wire.HeaderSize:])
	return req
}

func encodeResponse(dst []byte, resp *wire.Response) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(resp.Label))
	binary.LittleEndian.PutUint64(dst[4:12], uint64(resp.Ret))
	copy(dst[12:], resp.Payload[:])
}

func decodeResponse(src []byte) *wire.Response {
	resp := &wire.Response{
		Label: wire.Label(binary.LittleEndian.Uint32(src[0:4])),
		Ret:   int64(binary.LittleEndian.Uint64(src[4:12])),
	}
	copy(resp.Payload[:], src[12:])
	return resp
}
