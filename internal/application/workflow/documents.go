package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

func collectingDocuments(state domainwf.State) bool {
	return state == domainwf.StateDocumentCollection || state == domainwf.StatePendingAdditionalInfo
}

// SubmitDocuments attaches documents to a request collecting documents and validates them
func (o *orchestrator) SubmitDocuments(ctx context.Context, id string, docs []entity.Document, actor string) (*domainwf.Result, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents submitted", ErrInvalidRequest)
	}
	if o.closed.Load() {
		return nil, ErrClosed
	}
	t, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	req := t.wc.Request
	if !collectingDocuments(req.State) {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit documents in %s", ErrStepMismatch, req.State)
	}

	now := o.clock.Now()
	for _, doc := range docs {
		if doc.Type == "" || doc.FileName == "" {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: document type and file name are required", ErrInvalidRequest)
		}
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		doc.UploadedAt = now
		doc.IsValid = false
		doc.ValidationNotes = ""
		doc.MissingFields = nil
		doc.ValidatedAt = nil
		req.Documents = append(req.Documents, doc)
	}
	req.MissingDocuments = req.ComputeMissingDocuments()
	req.UpdatedAt = now
	req.Revision++
	o.persist(ctx, req, nil)
	t.mu.Unlock()

	o.logger.Info("Documents submitted",
		zap.String("authorization_id", id),
		zap.String("actor", actor),
		zap.Int("documents", len(docs)))

	return o.ProcessDocuments(ctx, id)
}

// ProcessDocuments validates every unvalidated or invalid document concurrently and
// advances the request. The lock is released while documents are validated; the batch
// is discarded if the request moved on or gained documents meanwhile.
func (o *orchestrator) ProcessDocuments(ctx context.Context, id string) (*domainwf.Result, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	t, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if !collectingDocuments(t.wc.Request.State) {
		state := t.wc.Request.State
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot process documents in %s", ErrStepMismatch, state)
	}
	pending := make([]entity.Document, 0)
	for _, doc := range t.wc.Request.Documents {
		if !doc.IsValidated() || !doc.IsValid {
			pending = append(pending, doc)
		}
	}
	startRevision := t.wc.Request.Revision
	t.mu.Unlock()

	validations := o.validateDocuments(ctx, id, pending)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.removed {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	req := t.wc.Request
	if !collectingDocuments(req.State) {
		return nil, fmt.Errorf("%w: request moved to %s during document processing", ErrStepMismatch, req.State)
	}
	if req.Revision != startRevision {
		return nil, fmt.Errorf("%w: request changed during document processing", ErrStepMismatch)
	}

	t.wc.PendingValidation = validations
	view := t.wc.View()

	action := domainwf.ActionRequestAdditionalInfo
	if len(view.Documents) > 0 && view.AllDocumentsValid() && view.AllRequiredDocumentsProvided() {
		action = domainwf.ActionSubmitDocuments
	}

	o.logger.Info("Documents processed",
		zap.String("authorization_id", id),
		zap.Int("validated", len(validations)),
		zap.Int("valid_documents", view.ValidDocumentCount()),
		zap.Strings("missing_documents", view.ComputeMissingDocuments()),
		zap.String("next_action", action.String()))

	result, err := o.executeLocked(ctx, t, action, SystemActor, nil)
	if err != nil {
		t.wc.PendingValidation = nil
		return nil, err
	}
	return result, nil
}

// validateDocuments extracts and validates documents concurrently. Results are in
// document order; one document failing never affects the others.
func (o *orchestrator) validateDocuments(ctx context.Context, id string, docs []entity.Document) []entity.DocumentValidation {
	results := make([]entity.DocumentValidation, len(docs))
	if len(docs) == 0 {
		return results
	}

	p := pool.New().WithMaxGoroutines(o.config.MaxDocumentWorkers)
	for i, doc := range docs {
		p.Go(func() {
			results[i] = o.validateDocument(ctx, id, doc)
		})
	}
	p.Wait()

	return results
}

func (o *orchestrator) validateDocument(ctx context.Context, id string, doc entity.Document) (result entity.DocumentValidation) {
	result = entity.DocumentValidation{DocumentID: doc.ID}
	defer func() {
		if r := recover(); r != nil {
			result.IsValid = false
			result.Err = fmt.Errorf("document validation panicked: %v", r)
		}
		result.ValidatedAt = o.clock.Now()
		if result.Err != nil {
			o.logger.Warn("Document validation failed",
				zap.String("authorization_id", id),
				zap.String("document_id", doc.ID),
				zap.String("document_type", doc.Type),
				zap.Error(result.Err))
		}
	}()

	if o.validator == nil {
		result.Err = ErrNoDocumentValidator
		return result
	}

	var ocr *port.OCRResult
	if o.extractor != nil {
		extracted, err := o.extractor.ExtractText(ctx, doc)
		if err != nil {
			result.Err = fmt.Errorf("text extraction failed: %w", err)
			return result
		}
		ocr = extracted
	}

	verdict, err := o.validator.ValidateDocument(ctx, doc, ocr)
	if err != nil {
		result.Err = fmt.Errorf("validation failed: %w", err)
		return result
	}
	result.IsValid = verdict.IsValid
	result.Notes = verdict.Notes
	result.MissingFields = append([]string(nil), verdict.MissingFields...)
	return result
}
