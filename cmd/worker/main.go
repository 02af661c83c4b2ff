package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/felipebianchini2006/sistemacadastro-sub001/config"
	"github.com/felipebianchini2006/sistemacadastro-sub001/db"
	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/erpsync"
	"github.com/felipebianchini2006/sistemacadastro-sub001/notification"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
	"github.com/felipebianchini2006/sistemacadastro-sub001/signature"
	"github.com/felipebianchini2006/sistemacadastro-sub001/storage"
	"github.com/felipebianchini2006/sistemacadastro-sub001/verification"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	if err := run(ctx, logger); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	piiKey, err := cfg.PIIKey()
	if err != nil {
		return err
	}
	codec, err := pii.NewCodec(piiKey)
	if err != nil {
		return err
	}

	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return err
	}

	broker := queue.NewBroker(pool, logger, queue.BrokerConfig{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		PollInterval: cfg.Queue.PollInterval,
		ClaimTimeout: cfg.Queue.ClaimTimeout,
	})

	proposals := proposal.NewRepository(pool)
	documents := document.NewRepository(pool)

	notifications := notification.NewRepository(pool)
	notifier := notification.NewNotifier(notifications, broker)
	dispatcher := notification.NewDispatcher(notifications, map[notification.Channel]notification.Sender{
		notification.ChannelEmail:    notification.NewHTTPSender(cfg.Notify.EmailURL, cfg.Notify.Token, cfg.Notify.Timeout),
		notification.ChannelSMS:      notification.NewHTTPSender(cfg.Notify.SMSURL, cfg.Notify.Token, cfg.Notify.Timeout),
		notification.ChannelWhatsApp: notification.NewHTTPSender(cfg.Notify.WhatsAppURL, cfg.Notify.Token, cfg.Notify.Timeout),
	}, logger)

	pipeline := verification.NewPipeline(
		documents, proposals, verification.NewResultRepository(pool), store,
		verification.NewHTTPExtractor(cfg.OCR.BaseURL, cfg.OCR.Token, cfg.OCR.Timeout),
		codec, logger, cfg.Matching.NameSimilarityThreshold)

	envelopes := signature.NewRepository(pool)
	workflow := signature.NewWorkflow(
		proposals, documents, envelopes, store,
		signature.NewHTTPProvider(cfg.Signing.BaseURL, cfg.Signing.Token, 30*time.Second),
		signature.NewRenderer(), notifier, broker, codec, cfg.Signing, logger)
	webhook := signature.NewWebhook(cfg.Signing.WebhookSecret, envelopes, proposals, broker, logger)

	syncer := erpsync.NewSyncer(
		proposals, documents, erpsync.NewRecordRepository(pool),
		erpsync.NewHTTPClient(cfg.ERP.BaseURL, cfg.ERP.Token, cfg.ERP.Timeout),
		notifier, codec, logger)

	g, gctx := errgroup.WithContext(ctx)

	consume := func(queueName string, handler queue.Handler, opts queue.ConsumeOptions) {
		g.Go(func() error {
			logger.Info("consumer started",
				zap.String("queue", queueName),
				zap.Int("concurrency", opts.Concurrency))
			return broker.Consume(gctx, queueName, handler, opts)
		})
	}

	consume(notification.QueueName, dispatcher.Handle, queue.ConsumeOptions{
		Concurrency: cfg.Queue.NotificationConcurrency,
	})
	consume(verification.QueueName, pipeline.Handle, queue.ConsumeOptions{
		Concurrency: cfg.Queue.OCRConcurrency,
		RateEvents:  cfg.Queue.OCRRateEvents,
		RateWindow:  cfg.Queue.OCRRateWindow,
	})
	consume(signature.DocumentQueueName, workflow.HandleGenerate, queue.ConsumeOptions{
		Concurrency: cfg.Queue.DocumentConcurrency,
	})
	consume(signature.SignatureQueueName, signatureHandler(workflow), queue.ConsumeOptions{
		Concurrency: cfg.Queue.SignatureConcurrency,
	})
	consume(erpsync.QueueName, syncer.Handle, queue.ConsumeOptions{
		Concurrency: cfg.Queue.ERPConcurrency,
	})

	g.Go(func() error {
		return serveWebhook(gctx, cfg.WebhookAddr, webhook, logger)
	})

	logger.Info("worker started")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("worker stopped")
	return err
}

// signatureHandler routes the two job kinds sharing the signatures queue.
func signatureHandler(workflow *signature.Workflow) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		switch job.Name {
		case signature.JobCreateEnvelope:
			return workflow.HandleCreate(ctx, job)
		case signature.JobAuditTrail:
			return workflow.HandleAudit(ctx, job)
		default:
			return queue.Unrecoverable(errors.New("unknown signature job " + job.Name))
		}
	}
}

func serveWebhook(ctx context.Context, addr string, webhook *signature.Webhook, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/webhooks/signature", webhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("webhook listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
