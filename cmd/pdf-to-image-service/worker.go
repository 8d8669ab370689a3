package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

// worker owns the object store handles and the shared processor. Jobs run one at a time.
type worker struct {
	jetStream  jetstream.JetStream
	pdfStore   jetstream.ObjectStore
	imageStore jetstream.ObjectStore
	processor  *pdfrender.Processor
	cfg        *Config
	appLogger  *logger.Logger
}

func newWorker(
	ctx context.Context,
	jetStream jetstream.JetStream,
	processor *pdfrender.Processor,
	cfg *Config,
	appLogger *logger.Logger,
) (*worker, error) {
	pdfStore, pdfStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.PDFObjectStoreBucket)
	if pdfStoreErr != nil {
		return nil, fmt.Errorf("failed to bind to PDF object store: %w", pdfStoreErr)
	}

	imageStore, imageStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.PNGObjectStoreBucket)
	if imageStoreErr != nil {
		return nil, fmt.Errorf("failed to bind to image object store: %w", imageStoreErr)
	}

	return &worker{
		jetStream:  jetStream,
		pdfStore:   pdfStore,
		imageStore: imageStore,
		processor:  processor,
		cfg:        cfg,
		appLogger:  appLogger,
	}, nil
}

// processMessages implements the core worker loop.
func (w *worker) processMessages(ctx context.Context, consumer jetstream.Consumer) error {
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context error in message loop: %w", ctxErr)
		}

		batch, fetchErr := consumer.Fetch(1, jetstream.FetchMaxWait(natsFetchTimeout))
		if fetchErr != nil {
			if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, nats.ErrTimeout) {
				continue
			}

			w.appLogger.Error("Error fetching messages: %v", fetchErr)

			continue
		}

		for msg := range batch.Messages() {
			w.handleMessage(ctx, msg)
		}

		if batchErr := batch.Error(); batchErr != nil {
			w.appLogger.Error("Error during message batch processing: %v", batchErr)
		}
	}
}

// handleMessage processes a single message. A message that cannot be decoded will never
// succeed, so it is terminated.
func (w *worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	event, decodeErr := decodeEvent(msg.Data())
	if decodeErr != nil {
		w.appLogger.Error("Failed to create job: %v", decodeErr)

		if termErr := msg.Term(); termErr != nil {
			w.appLogger.Error("Failed to TERM message: %v", termErr)
		}

		return
	}

	j := &job{
		worker:       w,
		msg:          msg,
		event:        event,
		header:       &event.Header,
		workDir:      "",
		localPDFPath: "",
		format:       "",
	}
	j.run(ctx)
}

// decodeEvent unmarshals the PDFCreatedEvent carried by a message.
func decodeEvent(data []byte) (*events.PDFCreatedEvent, error) {
	var event events.PDFCreatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PDFCreatedEvent: %w", err)
	}

	if event.PDFKey == "" {
		return nil, fmt.Errorf("PDFCreatedEvent %s has no PDF key", event.Header.EventID)
	}

	return &event, nil
}

// job represents the context for processing a single message.
type job struct {
	*worker

	msg          jetstream.Msg
	event        *events.PDFCreatedEvent
	header       *events.EventHeader
	workDir      string
	localPDFPath string
	format       pdfrender.Format
}

// renderedPage is a page image written by the conversion.
type renderedPage struct {
	path   string
	number int
}

// disposition is what happens to a message after its job ends.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRetry
	dispositionTerm
)

// dispositionFor maps a conversion result onto the message. Requests and documents that
// can never convert are terminated; everything else, including shutdown and pages that
// failed to render, is retried.
func dispositionFor(outcome pdfrender.Outcome, convertErr error) disposition {
	switch {
	case errors.Is(convertErr, pdfrender.ErrInvalidParameter),
		errors.Is(convertErr, pdfrender.ErrDocumentUnreadable):
		return dispositionTerm
	case convertErr != nil:
		return dispositionRetry
	case outcome.Status != pdfrender.StateCompleted, outcome.Failed > 0:
		return dispositionRetry
	default:
		return dispositionAck
	}
}

// run executes the full lifecycle of a job.
func (j *job) run(ctx context.Context) {
	j.appLogger.Info(
		"Received job for WorkflowID [%s]: processing PDF key '%s'",
		j.header.WorkflowID,
		j.event.PDFKey,
	)
	j.inProgress()

	dirErr := j.setupWorkDir()
	if dirErr != nil {
		j.appLogger.Error(
			"Error setting up work directory for job [%s]: %v",
			j.header.WorkflowID,
			dirErr,
		)
		j.nak(dirErr)

		return
	}
	defer j.cleanupWorkDir()

	if downloadErr := j.downloadPDF(ctx); downloadErr != nil {
		j.appLogger.Error(
			"Error downloading PDF for job [%s]: %v",
			j.header.WorkflowID,
			downloadErr,
		)
		j.term(downloadErr)

		return
	}

	outcome, pages, convertErr := j.convert(ctx)

	switch dispositionFor(outcome, convertErr) {
	case dispositionTerm:
		j.term(convertErr)

		return
	case dispositionRetry:
		j.retry(convertErr, outcome)

		return
	case dispositionAck:
	}

	if publishErr := j.publishPages(ctx, pages, publishedPageCount(outcome)); publishErr != nil {
		j.appLogger.Error(
			"Error publishing images for job [%s]: %v",
			j.header.WorkflowID,
			publishErr,
		)
		j.nak(publishErr)

		return
	}

	j.ack()
}

func (j *job) setupWorkDir() error {
	workDir, err := os.MkdirTemp(j.cfg.Paths.TempDir, fmt.Sprintf("pdf-%s-", j.header.WorkflowID))
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	j.workDir = workDir
	j.localPDFPath = filepath.Join(workDir, filepath.Base(j.event.PDFKey))

	return nil
}

func (j *job) cleanupWorkDir() {
	if err := os.RemoveAll(j.workDir); err != nil {
		j.appLogger.Warn("Failed to remove temp directory '%s': %v", j.workDir, err)
	}
}

func (j *job) downloadPDF(ctx context.Context) error {
	err := j.pdfStore.GetFile(ctx, j.event.PDFKey, j.localPDFPath)
	if err != nil {
		return fmt.Errorf("failed to get PDF '%s' from object store: %w", j.event.PDFKey, err)
	}

	return nil
}

// convert renders the downloaded PDF into the work directory. The message's ack deadline
// is extended on every conversion event and every heartbeatInterval in between, so a
// slow page does not outlast AckWait.
func (j *job) convert(ctx context.Context) (pdfrender.Outcome, []renderedPage, error) {
	req := j.cfg.requestFor(j.localPDFPath, filepath.Join(j.workDir, "pages"))
	j.format = req.Format
	conversion := j.processor.Start(ctx, req)

	var pages []renderedPage

	drainWithHeartbeat(conversion.Events(), heartbeatInterval, j.inProgress,
		func(event pdfrender.Event) {
			switch event.Kind {
			case pdfrender.EventPageDone:
				pages = append(pages, renderedPage{path: event.Path, number: event.Page})
			case pdfrender.EventPageFailed, pdfrender.EventBatchFailed:
				j.appLogger.Warn("Job [%s]: %v", j.header.WorkflowID, event.Err)
			default:
			}
		})

	outcome, convertErr := conversion.Wait()
	if convertErr != nil {
		return outcome, nil, fmt.Errorf("failed to process PDF: %w", convertErr)
	}

	return outcome, pages, nil
}

// publishPages uploads the page images to the object store and publishes one event per
// page. Pages are announced in page order.
func (j *job) publishPages(ctx context.Context, pages []renderedPage, totalPages int) error {
	j.appLogger.Info("Job [%s]: Found %d image(s) to publish.", j.header.WorkflowID, len(pages))

	for _, page := range pages {
		name := objectName(j.header, page.number, j.format)

		if uploadErr := uploadFileToObjectStore(ctx, j.imageStore, name, page.path); uploadErr != nil {
			return fmt.Errorf("failed to upload '%s': %w", name, uploadErr)
		}

		j.appLogger.Info("Job [%s]: Uploaded '%s'", j.header.WorkflowID, name)

		publishEventErr := j.publishPageCreatedEvent(ctx, name, totalPages, page.number)
		if publishEventErr != nil {
			return fmt.Errorf("failed to publish event for '%s': %w", name, publishEventErr)
		}

		j.appLogger.Info("Job [%s]: Published job for '%s'", j.header.WorkflowID, name)
	}

	return nil
}

// publishedPageCount is the TotalPages announced with each page. Blank pages that were
// not saved are never published, so they are left out of the count.
func publishedPageCount(outcome pdfrender.Outcome) int {
	return outcome.Total - outcome.Blank
}

// objectName is the object store key of a page image: tenant/workflow/page_NNNN.ext.
func objectName(header *events.EventHeader, page int, format pdfrender.Format) string {
	return fmt.Sprintf(
		"%s/%s/page_%04d.%s",
		header.TenantID,
		header.WorkflowID,
		page,
		format,
	)
}

func newPageCreatedEvent(
	header *events.EventHeader,
	key string,
	totalPages, pageNum int,
	now time.Time,
) events.PNGCreatedEvent {
	return events.PNGCreatedEvent{
		Header: events.EventHeader{
			WorkflowID: header.WorkflowID,
			UserID:     header.UserID,
			TenantID:   header.TenantID,
			EventID:    uuid.New().String(),
			Timestamp:  now,
		},
		PNGKey:     key,
		PageNumber: pageNum,
		TotalPages: totalPages,
	}
}

// publishPageCreatedEvent marshals and publishes a PNGCreatedEvent.
func (j *job) publishPageCreatedEvent(
	ctx context.Context,
	key string,
	totalPages, pageNum int,
) error {
	eventJSON, marshalErr := json.Marshal(
		newPageCreatedEvent(j.header, key, totalPages, pageNum, time.Now()),
	)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal PNGCreatedEvent: %w", marshalErr)
	}

	_, pubErr := j.jetStream.Publish(ctx, j.cfg.NATS.PNGCreatedSubject, eventJSON)
	if pubErr != nil {
		return fmt.Errorf("failed to publish PNGCreatedEvent: %w", pubErr)
	}

	return nil
}

// drainWithHeartbeat hands every event to handle until events is closed. beat runs
// before each event and whenever interval passes without one.
func drainWithHeartbeat(
	events <-chan pdfrender.Event,
	interval time.Duration,
	beat func(),
	handle func(pdfrender.Event),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}

			beat()
			handle(event)
		case <-ticker.C:
			beat()
		}
	}
}

func (j *job) inProgress() {
	if progErr := j.msg.InProgress(); progErr != nil {
		j.appLogger.Warn("Failed to send InProgress update: %v", progErr)
	}
}

func (j *job) ack() {
	if err := j.msg.Ack(); err != nil {
		j.appLogger.Error("Job [%s]: Failed to acknowledge message: %v", j.header.WorkflowID, err)
	} else {
		j.appLogger.Success("Job [%s]: Processing complete. Acknowledged.", j.header.WorkflowID)
	}
}

// retry naks the message, or terminates it once it has been delivered MaxDeliveries
// times.
func (j *job) retry(reason error, outcome pdfrender.Outcome) {
	if reason == nil {
		reason = fmt.Errorf(
			"conversion ended %s with %d of %d pages failed",
			outcome.Status,
			outcome.Failed,
			outcome.Total,
		)
	}

	meta, metaErr := j.msg.Metadata()
	if metaErr == nil && meta.NumDelivered >= uint64(j.cfg.Render.MaxDeliveries) {
		j.term(fmt.Errorf("giving up after %d deliveries: %w", meta.NumDelivered, reason))

		return
	}

	j.nak(reason)
}

func (j *job) nak(reason error) {
	j.appLogger.Error("NAK'ing message for job [%s]: %v", j.header.WorkflowID, reason)

	if err := j.msg.Nak(); err != nil {
		j.appLogger.Error("Failed to NAK message: %v", err)
	}
}

func (j *job) term(reason error) {
	j.appLogger.Error("Terminating message for job [%s]: %v", j.header.WorkflowID, reason)

	if err := j.msg.Term(); err != nil {
		j.appLogger.Error("Failed to TERM message: %v", err)
	}
}

func uploadFileToObjectStore(
	ctx context.Context,
	store jetstream.ObjectStore,
	name, filePath string,
) error {
	file, openErr := os.Open(filePath)
	if openErr != nil {
		return fmt.Errorf("failed to open file for upload: %w", openErr)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close file '%s': %v", filePath, closeErr)
		}
	}()

	meta := jetstream.ObjectMeta{
		Name:        name,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
	}

	_, putErr := store.Put(ctx, meta, file)
	if putErr != nil {
		return fmt.Errorf("failed to put file in object store: %w", putErr)
	}

	return nil
}
