package transport

import (
	"github.com/U-interrupt/sel4service/internal/wire"
	"github.com/U-interrupt/sel4service/metrics"
)

// Rendezvous implements the synchronous send/recv discipline: the
// client blocks until the server is ready to receive its request, and
// the server blocks until a client call arrives. An unbuffered channel
// pair is the direct Go analogue of seL4's rendezvous IPC, where
// send/recv only complete once both sides are present.
type Rendezvous struct {
	reqCh  chan *wire.Request
	respCh chan *wire.Response
}

// NewRendezvous builds an unconnected rendezvous channel pair.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		reqCh:  make(chan *wire.Request),
		respCh: make(chan *wire.Response),
	}
}

// Call implements Transport.
func (r *Rendezvous) Call(req *wire.Request) (*wire.Response, error) {
	metrics.TransportMessages.WithLabelValues("rendezvous", "send").Inc()
	r.reqCh <- req
	resp := <-r.respCh
	metrics.TransportMessages.WithLabelValues("rendezvous", "recv").Inc()
	return resp, nil
}

// Serve runs the server side of the rendezvous: one request in, one
// response out, forever, until Close is called.
func (r *Rendezvous) Serve(handle Handler) {
	for req := range r.reqCh {
		r.respCh <- handle(req)
	}
}

// Close unblocks a pending Serve loop.
func (r *Rendezvous) Close() {
	close(r.reqCh)
}
