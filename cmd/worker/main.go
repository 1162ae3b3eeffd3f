// Command worker owns one sandbox box, connects to a dispatcher over
// websocket RPC, and runs the Judgement/RunCached state machines in a loop,
// reconnecting with backoff if the dispatcher connection drops.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arbiter-oj/judge/internal/config"
	"github.com/arbiter-oj/judge/internal/job"
	"github.com/arbiter-oj/judge/internal/language"
	"github.com/arbiter-oj/judge/internal/sandbox"
	"github.com/arbiter-oj/judge/internal/worker"
)

type rpcMessage struct {
	Type string `json:"type"`

	Languages []languageAd   `json:"languages,omitempty"`
	Job       *job.Job       `json:"job,omitempty"`
	Result    *job.JobResult `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type languageAd struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

const boxID = 0

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.Info("starting judge worker")

	languages, err := language.NewRegistry()
	if err != nil {
		logger.WithError(err).Fatal("failed to build language registry")
	}

	driver := sandbox.NewDriver(cfg.IsolatePath, cfg.DataDirectory, cfg.SandboxWallTimeSeconds)
	box, err := driver.Init(boxID)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize sandbox box")
	}

	w := worker.New(driver, box, languages, cfg.DataDirectory, cfg.CompileTimeLimitMs, cfg.CompileMemoryLimitKiB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ad := advertisement(languages)

	for {
		if ctx.Err() != nil {
			logger.Info("worker exiting")
			return
		}

		if err := runConnection(ctx, cfg.DispatcherURL, ad, w, logger); err != nil {
			logger.WithError(err).Warn("dispatcher connection lost, reconnecting")
		}

		select {
		case <-time.After(cfg.ReconnectBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func advertisement(languages *language.Registry) []languageAd {
	var ads []languageAd
	for _, p := range languages.All() {
		ads = append(ads, languageAd{Key: p.Key, Name: p.Name, DisplayOrder: p.Order})
	}
	return ads
}

// runConnection dials the dispatcher once and serves the GetJob/
// SubmitJobResult loop until the connection breaks or ctx is canceled.
func runConnection(ctx context.Context, dispatcherURL string, ad []languageAd, w *worker.Worker, logger *logrus.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dispatcherURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if err := conn.WriteJSON(rpcMessage{Type: "get_job_request", Languages: ad}); err != nil {
			return err
		}

		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type != "job" || msg.Job == nil {
			continue
		}

		result, procErr := w.Process(ctx, *msg.Job)
		if procErr != nil {
			logger.WithError(procErr).WithField("uuid", msg.Job.UUID).Error("sandbox infrastructure failure, skipping job")
			continue
		}

		if err := conn.WriteJSON(rpcMessage{Type: "submit_job_result", Result: result}); err != nil {
			return err
		}

		var ack rpcMessage
		if err := conn.ReadJSON(&ack); err != nil {
			return err
		}
	}
}
