package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/engine"
	"github.com/yourorg/tburn-genesis-engine/internal/genesis"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"version":   Version,
		"running":   s.engine.Running(),
		"circuit":   s.engine.GetCircuitBreakerState().State,
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetMetrics())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Dashboard())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetQueueStatus())
}

type createTaskRequest struct {
	Category         types.Category    `json:"category"`
	Subcategory      string            `json:"subcategory"`
	RecipientAddress string            `json:"recipientAddress"`
	RecipientName    string            `json:"recipientName"`
	AmountTBURN      decimal.Decimal   `json:"amountTBURN"`
	Percentage       float64           `json:"percentage"`
	Priority         types.Priority    `json:"priority"`
	Metadata         map[string]string `json:"metadata"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	req := createTaskRequest{Priority: types.PriorityNormal}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	task, err := s.engine.CreateDistributionTask(engine.TaskRequest{
		Category:         req.Category,
		Subcategory:      req.Subcategory,
		RecipientAddress: req.RecipientAddress,
		RecipientName:    req.RecipientName,
		AmountTBURN:      req.AmountTBURN,
		Percentage:       req.Percentage,
		Priority:         req.Priority,
		Metadata:         req.Metadata,
	})
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.engine.GetTask(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetAllBatches())
}

// createBatchRequest either names pending tasks or, with fromQueue, drains up to limit of them
type createBatchRequest struct {
	Name      string         `json:"name"`
	Category  types.Category `json:"category"`
	Priority  types.Priority `json:"priority"`
	TaskIDs   []string       `json:"taskIds"`
	FromQueue bool           `json:"fromQueue"`
	Limit     int            `json:"limit"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	req := createBatchRequest{Priority: types.PriorityNormal}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = string(req.Category) + " batch"
	}

	var (
		batch *model.DistributionBatch
		err   error
	)
	if req.FromQueue {
		batch, err = s.engine.CreateBatchFromQueue(req.Name, req.Category, req.Priority, req.Limit)
	} else {
		refs := make([]*model.DistributionTask, 0, len(req.TaskIDs))
		for _, id := range req.TaskIDs {
			refs = append(refs, &model.DistributionTask{ID: id})
		}
		batch, err = s.engine.CreateBatch(req.Name, req.Category, refs, req.Priority)
	}
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.engine.GetBatchStatus(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Batch not found")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.engine.CancelBatch(r.PathValue("id"))
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListVesting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetAllVestingSchedules())
}

type createVestingRequest struct {
	TaskID         string           `json:"taskId"`
	TotalAmount    decimal.Decimal  `json:"totalAmountTBURN"`
	CliffMonths    int              `json:"cliffMonths"`
	DurationMonths int              `json:"durationMonths"`
	TGEPercent     float64          `json:"tgePercent"`
	UnlockType     types.UnlockType `json:"unlockType"`
}

func (s *Server) handleCreateVesting(w http.ResponseWriter, r *http.Request) {
	req := createVestingRequest{UnlockType: types.UnlockLinear}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	schedule, err := s.engine.CreateVestingSchedule(engine.VestingRequest{
		TaskID:         req.TaskID,
		TotalAmountWei: model.ToWei(req.TotalAmount),
		CliffMonths:    req.CliffMonths,
		DurationMonths: req.DurationMonths,
		TGEPercent:     req.TGEPercent,
		UnlockType:     req.UnlockType,
	})
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (s *Server) handleGetVesting(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.engine.GetVestingSchedule(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Vesting schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetAllApprovalRequests())
}

type createApprovalRequest struct {
	BatchID            string                `json:"batchId"`
	RequiredSignatures int                   `json:"requiredSignatures"`
	Signers            []approval.SignerSpec `json:"signers"`
	ExpirationHours    int                   `json:"expirationHours"`
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	req := createApprovalRequest{ExpirationHours: 72}
	if err := decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	created, err := s.engine.CreateApprovalRequest(req.BatchID, req.RequiredSignatures, req.Signers, req.ExpirationHours)
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := s.engine.GetApprovalRequest(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type signRequest struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
	Approved  bool   `json:"approved"`
	Comments  string `json:"comments"`
}

func (s *Server) handleSignApproval(w http.ResponseWriter, r *http.Request) {
	var body signRequest
	if err := decode(r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	req, ok := s.engine.SubmitApproval(id, body.Signer, body.Signature, body.Approved, body.Comments)
	if !ok {
		if _, exists := s.engine.GetApprovalRequest(id); !exists {
			s.errorResponse(w, http.StatusNotFound, "Approval request not found")
			return
		}
		s.errorResponse(w, http.StatusConflict, "Submission not accepted: request closed, signer not eligible or signature invalid")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetCircuitBreakerState())
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCircuitBreaker()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Circuit breaker reset",
		"state":   s.engine.GetCircuitBreakerState(),
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetAllCategoryAllocations())
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := types.ParseCategory(r.PathValue("category"))
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "Unknown category")
		return
	}
	alloc, ok := s.engine.GetCategoryAllocation(c)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Category has no allocation")
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// handleAlerts lists active alerts, or the alert history with ?history=true
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") == "true" {
		writeJSON(w, http.StatusOK, s.monitor.GetAlertHistory(queryInt(r, "limit", 100)))
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.GetActiveAlerts())
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.monitor.AcknowledgeAlert(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetSnapshots(queryInt(r, "limit", 50)))
}

func (s *Server) handleExporter(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.exporter.GetExporterStatus())
}

func (s *Server) handleGenesis(w http.ResponseWriter, r *http.Request) {
	table := s.table
	if table == nil {
		table = genesis.DefaultTable()
	}
	summary, err := s.engine.InitializeGenesisDistribution(table)
	if err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	s.engine.Start()
	writeJSON(w, http.StatusOK, s.engine.GetQueueStatus())
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.engine.GetQueueStatus())
}
