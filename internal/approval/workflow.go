// Package approval implements the multi-signature gate that holds a batch until a quorum of signers approves it.
package approval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
)

// ErrInvalidRequest is returned when a request cannot be created from the given parameters
var ErrInvalidRequest = errors.New("invalid approval request")

// Outcome describes what a submission did to its request
type Outcome int

// Submission outcomes
const (
	OutcomeNotFound Outcome = iota // request absent, not pending, unknown signer, duplicate vote or bad signature
	OutcomeRecorded                // positive vote counted, quorum not yet reached
	OutcomeApproved                // quorum reached with this vote
	OutcomeRejected                // negative vote vetoed the request
	OutcomeExpired                 // request expired before the vote was counted
)

func (o Outcome) String() string {
	return [...]string{"not_found", "recorded", "approved", "rejected", "expired"}[o]
}

// SignerSpec names a signer allowed to act on a request
type SignerSpec struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

// Workflow stores approval requests and applies signer decisions
type Workflow struct {
	mu       sync.Mutex
	requests map[string]*model.ApprovalRequest
	byBatch  map[string]string
	verifier security.SignatureVerifier
	now      func() time.Time
}

// New creates a workflow using verifier to check submitted signatures
func New(verifier security.SignatureVerifier) *Workflow {
	if verifier == nil {
		verifier = security.OpaqueVerifier{}
	}
	return &Workflow{
		requests: make(map[string]*model.ApprovalRequest),
		byBatch:  make(map[string]string),
		verifier: verifier,
		now:      time.Now,
	}
}

// WithClock replaces the time source, mainly for tests
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

// ValidatePolicy checks a signer policy without registering anything
func ValidatePolicy(required int, signers []SignerSpec, ttl time.Duration) error {
	if required < 1 || required > len(signers) {
		return fmt.Errorf("%w: %d signatures required from %d signers", ErrInvalidRequest, required, len(signers))
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: expiration must be positive", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(signers))
	for _, s := range signers {
		key := strings.ToLower(s.Address)
		if key == "" || seen[key] {
			return fmt.Errorf("%w: empty or duplicate signer %q", ErrInvalidRequest, s.Address)
		}
		seen[key] = true
	}
	return nil
}

// Create registers a pending request for batchID expiring after ttl
func (w *Workflow) Create(batchID string, required int, signers []SignerSpec, ttl time.Duration) (*model.ApprovalRequest, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrInvalidRequest)
	}
	if err := ValidatePolicy(required, signers, ttl); err != nil {
		return nil, err
	}
	list := make([]model.ApprovalSigner, 0, len(signers))
	for _, s := range signers {
		list = append(list, model.ApprovalSigner{Address: s.Address, Name: s.Name, Role: s.Role})
	}

	now := w.now()
	req := &model.ApprovalRequest{
		ID:                 uuid.NewString(),
		BatchID:            batchID,
		RequiredSignatures: required,
		Signers:            list,
		Status:             model.ApprovalPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}

	w.mu.Lock()
	w.requests[req.ID] = req
	w.byBatch[batchID] = req.ID
	w.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"request_id": req.ID,
		"batch_id":   batchID,
		"required":   required,
		"signers":    len(list),
	}).Info("Approval request created")
	return req.Clone(), nil
}

// Submit records one signer's decision.
// A single rejection vetoes the request; approval happens on exactly the required-th positive vote.
func (w *Workflow) Submit(requestID, signerAddress, signature string, approved bool, comments string) (*model.ApprovalRequest, Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[requestID]
	if !ok || req.Status != model.ApprovalPending {
		return nil, OutcomeNotFound
	}
	now := w.now()
	if w.expireLocked(req, now) {
		return req.Clone(), OutcomeExpired
	}

	idx := -1
	for i := range req.Signers {
		if strings.EqualFold(req.Signers[i].Address, signerAddress) {
			idx = i
			break
		}
	}
	if idx < 0 || req.Signers[idx].HasActed() {
		return nil, OutcomeNotFound
	}

	msg := security.ApprovalMessage(req.ID, req.BatchID, approved)
	if err := w.verifier.Verify(req.Signers[idx].Address, msg, signature); err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": req.ID,
			"signer":     signerAddress,
		}).Warnf("Approval signature rejected: %v", err)
		return nil, OutcomeNotFound
	}

	decision := approved
	signer := &req.Signers[idx]
	signer.SignedAt = &now
	signer.Signature = signature
	signer.Approved = &decision
	signer.Comments = comments

	if !approved {
		req.Status = model.ApprovalRejected
		req.RejectedAt = &now
		logrus.WithFields(logrus.Fields{"request_id": req.ID, "signer": signerAddress}).Info("Approval request rejected")
		return req.Clone(), OutcomeRejected
	}

	req.CurrentSignatures++
	if req.CurrentSignatures >= req.RequiredSignatures {
		req.Status = model.ApprovalApproved
		req.ApprovedAt = &now
		req.ExecutionHash = executionHash(req)
		logrus.WithFields(logrus.Fields{"request_id": req.ID, "batch_id": req.BatchID}).Info("Approval request approved")
		return req.Clone(), OutcomeApproved
	}
	return req.Clone(), OutcomeRecorded
}

// Get returns a copy of the request. An overdue pending request reads as expired; the stored
// request only transitions through ExpireDue or Submit.
func (w *Workflow) Get(requestID string) (*model.ApprovalRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, ok := w.requests[requestID]
	if !ok {
		return nil, false
	}
	return viewAt(req, w.now()), true
}

// ForBatch returns the latest request created for batchID
func (w *Workflow) ForBatch(batchID string) (*model.ApprovalRequest, bool) {
	w.mu.Lock()
	id, ok := w.byBatch[batchID]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.Get(id)
}

// All returns every request ordered by creation time
func (w *Workflow) All() []*model.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	out := make([]*model.ApprovalRequest, 0, len(w.requests))
	for _, req := range w.requests {
		out = append(out, viewAt(req, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExpireDue transitions every overdue pending request and returns the ones it expired
func (w *Workflow) ExpireDue() []*model.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	var expired []*model.ApprovalRequest
	for _, req := range w.requests {
		if w.expireLocked(req, now) {
			expired = append(expired, req.Clone())
		}
	}
	return expired
}

func viewAt(req *model.ApprovalRequest, now time.Time) *model.ApprovalRequest {
	out := req.Clone()
	if out.Status == model.ApprovalPending && now.After(out.ExpiresAt) {
		out.Status = model.ApprovalExpired
	}
	return out
}

func (w *Workflow) expireLocked(req *model.ApprovalRequest, now time.Time) bool {
	if req.Status != model.ApprovalPending || !now.After(req.ExpiresAt) {
		return false
	}
	req.Status = model.ApprovalExpired
	logrus.WithFields(logrus.Fields{"request_id": req.ID, "batch_id": req.BatchID}).Info("Approval request expired")
	return true
}

func executionHash(req *model.ApprovalRequest) string {
	parts := []string{req.ID, req.BatchID}
	for _, s := range req.Signers {
		if s.Approved != nil && *s.Approved {
			parts = append(parts, strings.ToLower(s.Address), s.Signature)
		}
	}
	return security.Keccak256Hex(parts...)
}
