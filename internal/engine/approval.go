package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
)

// CreateApprovalRequest puts a queued batch behind a multi-signature approval.
// The batch is held out of the queue until the request is approved, and cancelled if it is rejected or expires.
func (e *Engine) CreateApprovalRequest(batchID string, requiredSignatures int, signers []approval.SignerSpec, expirationHours int) (*model.ApprovalRequest, error) {
	e.mu.Lock()
	b, ok := e.batches[batchID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if b.Status != model.BatchPending {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrBatchNotQueued, batchID, b.Status)
	}
	req, err := e.attachApprovalLocked(b, requiredSignatures, signers, expirationHours)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.bus.Publish(events.Event{Type: events.ApprovalCreated, RequestID: req.ID, BatchID: batchID, Category: b.Category})
	return req, nil
}

// attachApprovalLocked registers the request and holds the pending batch behind it.
// e.mu stays held so the processor cannot admit the batch in between.
func (e *Engine) attachApprovalLocked(b *model.DistributionBatch, requiredSignatures int, signers []approval.SignerSpec, expirationHours int) (*model.ApprovalRequest, error) {
	req, err := e.approvals.Create(b.ID, requiredSignatures, signers, time.Duration(expirationHours)*time.Hour)
	if err != nil {
		return nil, err
	}
	b.ApprovalRequestID = req.ID
	if _, queued := e.batchQueue.Remove(func(q *model.DistributionBatch) bool { return q.ID == b.ID }); queued {
		e.heldBatches[b.ID] = b
	}
	return req, nil
}

// SubmitApproval records one signer's decision. ok is false when the request is unknown,
// no longer pending, or the signer is not eligible to vote.
func (e *Engine) SubmitApproval(requestID, signerAddress, signature string, approved bool, comments string) (*model.ApprovalRequest, bool) {
	req, outcome := e.approvals.Submit(requestID, signerAddress, signature, approved, comments)
	switch outcome {
	case approval.OutcomeNotFound:
		return nil, false
	case approval.OutcomeRecorded:
		return req, true
	case approval.OutcomeApproved:
		e.bus.Publish(events.Event{Type: events.ApprovalApproved, RequestID: req.ID, BatchID: req.BatchID})
	case approval.OutcomeRejected:
		e.bus.Publish(events.Event{Type: events.ApprovalRejected, RequestID: req.ID, BatchID: req.BatchID})
	case approval.OutcomeExpired:
		e.bus.Publish(events.Event{Type: events.ApprovalExpired, RequestID: req.ID, BatchID: req.BatchID})
	}
	e.resolveApproval(req)
	return req, true
}

func (e *Engine) expireApprovals() {
	for _, req := range e.approvals.ExpireDue() {
		e.bus.Publish(events.Event{Type: events.ApprovalExpired, RequestID: req.ID, BatchID: req.BatchID})
		e.resolveApproval(req)
	}
	// batches dequeued while their request was resolving land in the held set
	e.mu.Lock()
	var stale []*model.ApprovalRequest
	for _, b := range e.heldBatches {
		if req, ok := e.approvals.Get(b.ApprovalRequestID); ok && req.Status != model.ApprovalPending {
			stale = append(stale, req)
		}
	}
	e.mu.Unlock()
	for _, req := range stale {
		e.resolveApproval(req)
	}
}

// resolveApproval releases or cancels the batch of a request that left the pending state
func (e *Engine) resolveApproval(req *model.ApprovalRequest) {
	e.mu.Lock()
	b, ok := e.batches[req.BatchID]
	if !ok || b.ApprovalRequestID != req.ID {
		e.mu.Unlock()
		return
	}

	var cancelled *model.DistributionBatch
	switch req.Status {
	case model.ApprovalApproved:
		if _, held := e.heldBatches[b.ID]; held {
			delete(e.heldBatches, b.ID)
			e.batchQueue.Enqueue(b)
		}
	case model.ApprovalRejected, model.ApprovalExpired:
		if c, err := e.cancelBatchLocked(b.ID); err == nil {
			cancelled = c.Clone()
		}
	}
	e.mu.Unlock()

	if cancelled != nil {
		logrus.WithFields(logrus.Fields{
			"batch_id":   cancelled.ID,
			"request_id": req.ID,
			"status":     req.Status,
		}).Info("Batch cancelled by approval outcome")
		e.bus.Publish(events.Event{Type: events.BatchCancelled, BatchID: cancelled.ID, RequestID: req.ID, Category: cancelled.Category})
	}
}
