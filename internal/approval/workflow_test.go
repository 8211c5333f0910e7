package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func signers(n int) []SignerSpec {
	names := []string{"alice", "bob", "carol", "dave", "erin"}
	out := make([]SignerSpec, n)
	for i := 0; i < n; i++ {
		out[i] = SignerSpec{Address: "0xsigner" + names[i], Name: names[i], Role: "treasury"}
	}
	return out
}

func newWorkflow() (*Workflow, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(nil).WithClock(c.Now), c
}

func TestCreateValidatesParameters(t *testing.T) {
	w, _ := newWorkflow()
	_, err := w.Create("", 1, signers(1), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = w.Create("b", 3, signers(2), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = w.Create("b", 0, signers(2), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = w.Create("b", 1, []SignerSpec{{Address: "0x1"}, {Address: "0X1"}}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = w.Create("b", 1, signers(1), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestQuorumReachedOnNthApproval(t *testing.T) {
	w, c := newWorkflow()
	req, err := w.Create("batch-1", 3, signers(4), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, req.Status)
	assert.Equal(t, c.now.Add(24*time.Hour), req.ExpiresAt)

	got, outcome := w.Submit(req.ID, "0xsigneralice", "sig-a", true, "")
	assert.Equal(t, OutcomeRecorded, outcome)
	assert.Equal(t, 1, got.CurrentSignatures)
	assert.Equal(t, model.ApprovalPending, got.Status)

	got, outcome = w.Submit(req.ID, "0xsignerbob", "sig-b", true, "")
	assert.Equal(t, OutcomeRecorded, outcome)
	assert.Equal(t, model.ApprovalPending, got.Status)

	got, outcome = w.Submit(req.ID, "0xSIGNERCAROL", "sig-c", true, "lgtm")
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, model.ApprovalApproved, got.Status)
	assert.Equal(t, 3, got.CurrentSignatures)
	require.NotNil(t, got.ApprovedAt)
	assert.NotEmpty(t, got.ExecutionHash)
	assert.Equal(t, "lgtm", got.Signers[2].Comments)

	_, outcome = w.Submit(req.ID, "0xsignerdave", "sig-d", true, "")
	assert.Equal(t, OutcomeNotFound, outcome, "approved requests are immutable")
	final, ok := w.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, 3, final.CurrentSignatures)
}

func TestSingleRejectionVetoes(t *testing.T) {
	w, _ := newWorkflow()
	req, err := w.Create("batch-2", 2, signers(3), time.Hour)
	require.NoError(t, err)

	got, outcome := w.Submit(req.ID, "0xsigneralice", "sig-a", true, "")
	require.Equal(t, OutcomeRecorded, outcome)
	assert.Equal(t, 1, got.CurrentSignatures)
	assert.Equal(t, model.ApprovalPending, got.Status)

	got, outcome = w.Submit(req.ID, "0xsignerbob", "sig-b", false, "amount too large")
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, model.ApprovalRejected, got.Status)
	assert.NotNil(t, got.RejectedAt)

	_, outcome = w.Submit(req.ID, "0xsignercarol", "sig-c", true, "")
	assert.Equal(t, OutcomeNotFound, outcome, "votes after rejection are never counted")
	final, _ := w.Get(req.ID)
	assert.Equal(t, 1, final.CurrentSignatures)
	assert.Nil(t, final.Signers[2].SignedAt)
}

func TestExpiry(t *testing.T) {
	w, c := newWorkflow()
	req, err := w.Create("batch-3", 1, signers(2), time.Hour)
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour + time.Second)
	got, outcome := w.Submit(req.ID, "0xsigneralice", "sig", true, "")
	assert.Equal(t, OutcomeExpired, outcome)
	assert.Equal(t, model.ApprovalExpired, got.Status)
	assert.Equal(t, 0, got.CurrentSignatures)

	_, outcome = w.Submit(req.ID, "0xsignerbob", "sig", true, "")
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestGetAndExpireDue(t *testing.T) {
	w, c := newWorkflow()
	req, err := w.Create("batch-4", 1, signers(1), time.Minute)
	require.NoError(t, err)
	other, err := w.Create("batch-5", 1, signers(1), time.Hour)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Minute)
	expired := w.ExpireDue()
	require.Len(t, expired, 1)
	assert.Equal(t, req.ID, expired[0].ID)
	assert.Empty(t, w.ExpireDue(), "expiry happens once")

	got, ok := w.ForBatch("batch-5")
	require.True(t, ok)
	assert.Equal(t, other.ID, got.ID)
	assert.Equal(t, model.ApprovalPending, got.Status)

	all := w.All()
	require.Len(t, all, 2)
}

func TestReadsDoNotConsumeExpiry(t *testing.T) {
	w, c := newWorkflow()
	req, err := w.Create("batch-6", 1, signers(1), time.Minute)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Minute)
	got, ok := w.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, model.ApprovalExpired, got.Status, "overdue requests read as expired")
	all := w.All()
	require.Len(t, all, 1)
	assert.Equal(t, model.ApprovalExpired, all[0].Status)
	byBatch, ok := w.ForBatch("batch-6")
	require.True(t, ok)
	assert.Equal(t, model.ApprovalExpired, byBatch.Status)

	expired := w.ExpireDue()
	require.Len(t, expired, 1, "the transition is still reported after reads")
	assert.Equal(t, req.ID, expired[0].ID)
}

func TestValidatePolicy(t *testing.T) {
	assert.NoError(t, ValidatePolicy(2, signers(3), time.Hour))
	assert.ErrorIs(t, ValidatePolicy(4, signers(3), time.Hour), ErrInvalidRequest)
	assert.ErrorIs(t, ValidatePolicy(1, []SignerSpec{{Address: ""}}, time.Hour), ErrInvalidRequest)
	assert.ErrorIs(t, ValidatePolicy(1, signers(1), -time.Hour), ErrInvalidRequest)
}

func TestUnknownAndDuplicateSigner(t *testing.T) {
	w, _ := newWorkflow()
	req, err := w.Create("batch-6", 2, signers(2), time.Hour)
	require.NoError(t, err)

	_, outcome := w.Submit("missing", "0xsigneralice", "sig", true, "")
	assert.Equal(t, OutcomeNotFound, outcome)
	_, outcome = w.Submit(req.ID, "0xstranger", "sig", true, "")
	assert.Equal(t, OutcomeNotFound, outcome)
	_, outcome = w.Submit(req.ID, "0xsigneralice", "sig", true, "")
	assert.Equal(t, OutcomeRecorded, outcome)
	_, outcome = w.Submit(req.ID, "0xsigneralice", "sig", true, "")
	assert.Equal(t, OutcomeNotFound, outcome, "a signer votes once")
}

func TestEthereumVerifierGatesVotes(t *testing.T) {
	signer, err := security.NewSigner()
	require.NoError(t, err)

	w := New(security.EthereumVerifier{})
	req, err := w.Create("batch-7", 1, []SignerSpec{{Address: signer.Address(), Name: "ops"}}, time.Hour)
	require.NoError(t, err)

	_, outcome := w.Submit(req.ID, signer.Address(), "0xdeadbeef", true, "")
	assert.Equal(t, OutcomeNotFound, outcome)

	sig, err := signer.Sign(security.ApprovalMessage(req.ID, "batch-7", true))
	require.NoError(t, err)
	got, outcome := w.Submit(req.ID, signer.Address(), sig, true, "")
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, model.ApprovalApproved, got.Status)
}
