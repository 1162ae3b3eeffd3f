package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arbiter-oj/judge/internal/job"
)

// rpcMessage multiplexes GetJob and SubmitJobResult over one duplex
// websocket connection per worker, the same duplex-connection shape the
// teacher's browser-facing websocket handler uses, repointed at worker RPC.
type rpcMessage struct {
	Type string `json:"type"`

	Languages []LanguageInfo  `json:"languages,omitempty"`
	Job       *job.Job        `json:"job,omitempty"`
	Result    *job.JobResult  `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

const (
	msgGetJobRequest    = "get_job_request"
	msgJob              = "job"
	msgSubmitJobResult  = "submit_job_result"
	msgAck              = "ack"
	msgError            = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWorkerRPC upgrades an HTTP request to a websocket connection and
// serves GetJob/SubmitJobResult RPC on it until the worker disconnects.
func (d *Dispatcher) ServeWorkerRPC(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.WithError(err).Warn("failed to upgrade worker connection")
		return
	}

	wc := &workerConn{
		conn:   conn,
		d:      d,
		logger: d.logger.WithField("remote_addr", r.RemoteAddr),
	}
	wc.serve(r.Context())
}

// workerConn wraps one worker's websocket connection. Reads happen on a
// single goroutine (serve); GetJob's long-poll nature means each inbound
// request is handled on its own goroutine so a pending GetJob doesn't block
// a concurrent SubmitJobResult on the same connection, mirroring the
// teacher's eventSender-plus-read-loop split.
type workerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	d       *Dispatcher
	logger  *logrus.Entry
}

func (wc *workerConn) writeJSON(v any) {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := wc.conn.WriteJSON(v); err != nil {
		wc.logger.WithError(err).Debug("failed to write rpc message")
	}
}

func (wc *workerConn) serve(ctx context.Context) {
	defer wc.conn.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg rpcMessage
		if err := wc.conn.ReadJSON(&msg); err != nil {
			wc.logger.WithError(err).Debug("worker rpc connection closed")
			return
		}

		switch msg.Type {
		case msgGetJobRequest:
			wg.Add(1)
			go func(msg rpcMessage) {
				defer wg.Done()
				wc.handleGetJob(ctx, msg)
			}(msg)
		case msgSubmitJobResult:
			wg.Add(1)
			go func(msg rpcMessage) {
				defer wg.Done()
				wc.handleSubmitJobResult(msg)
			}(msg)
		default:
			wc.writeJSON(rpcMessage{Type: msgError, Error: errUnknownMessageType.Error()})
		}
	}
}

func (wc *workerConn) handleGetJob(ctx context.Context, msg rpcMessage) {
	j, err := wc.d.GetJob(ctx, msg.Languages)
	if err != nil {
		// context canceled: connection is going away, nothing to write back.
		return
	}
	wc.writeJSON(rpcMessage{Type: msgJob, Job: &j})
}

func (wc *workerConn) handleSubmitJobResult(msg rpcMessage) {
	if msg.Result == nil {
		wc.writeJSON(rpcMessage{Type: msgError, Error: "submit_job_result message missing result"})
		return
	}
	wc.d.SubmitJobResult(*msg.Result)
	wc.writeJSON(rpcMessage{Type: msgAck})
}
