package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"monspark/gateway/middleware"
	"monspark/services/sparkd/core"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "MONSpark Backend API",
		"version": Version,
		"status":  "running",
		"endpoints": map[string]string{
			"quests":   "/api/quests",
			"gas":      "/api/gas",
			"bridge":   "/api/bridge",
			"activity": "/api/activity",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

// Quests

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := s.core.Quests(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, "Failed to fetch quests", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quests": quests})
}

func (s *Server) handleQuest(w http.ResponseWriter, r *http.Request) {
	id, err := parseQuestID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid quest ID", Message: err.Error()})
		return
	}
	quest, err := s.core.Quest(r.Context(), id, r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, "Failed to fetch quest", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quest": quest})
}

func (s *Server) handleCompleteQuest(w http.ResponseWriter, r *http.Request) {
	id, err := parseQuestID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid quest ID", Message: err.Error()})
		return
	}
	var req struct {
		UserAddress string `json:"userAddress"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		badRequest(w, "User address is required")
		return
	}
	result, err := s.core.CompleteQuest(r.Context(), req.UserAddress, id)
	if err != nil {
		writeError(w, "Failed to complete quest", err)
		return
	}
	body := map[string]any{
		"success":      true,
		"txHash":       result.TxHash,
		"quest":        result.Quest,
		"userProgress": result.UserProgress,
	}
	if result.LevelUp != nil {
		body["levelUp"] = result.LevelUp
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.core.Progress(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "Failed to fetch progress", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": progress})
}

// Gas

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	eligibility, err := s.core.Eligibility(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "Failed to check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserAddress string `json:"userAddress"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		badRequest(w, "User address is required")
		return
	}
	result, err := s.core.AllocateGas(r.Context(), req.UserAddress)
	if err != nil {
		writeError(w, "Failed to allocate gas", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"allocationId": result.AllocationID,
		"amount":       result.Amount,
		"txHash":       result.TxHash,
		"message":      "Gas allocated successfully",
	})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllocationID string `json:"allocationId"`
		UserAddress  string `json:"userAddress"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AllocationID) == "" || strings.TrimSpace(req.UserAddress) == "" {
		badRequest(w, "Allocation ID and user address are required")
		return
	}
	result, err := s.core.RevertGas(r.Context(), req.UserAddress, req.AllocationID)
	if err != nil {
		writeError(w, "Failed to revert gas", err)
		return
	}
	body := map[string]any{
		"success": true,
		"message": "Gas reverted successfully",
	}
	if result.TxHash != "" {
		body["txHash"] = result.TxHash
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	balance, err := s.core.PoolBalance(r.Context())
	if err != nil {
		writeError(w, "Failed to fetch pool balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"poolBalance": balance,
		"unit":        "MON",
	})
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	allocations, err := s.core.Allocations(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "Failed to fetch allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": allocations})
}

// Bridge

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InputAmount string `json:"inputAmount"`
		TargetToken string `json:"targetToken"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.InputAmount) == "" || strings.TrimSpace(req.TargetToken) == "" {
		badRequest(w, "Input amount and target token are required")
		return
	}
	quote, err := s.core.CalculateBridge(r.Context(), req.InputAmount, req.TargetToken)
	if err != nil {
		writeError(w, "Failed to calculate output", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req core.BridgeInitiation
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserAddress) == "" || strings.TrimSpace(req.Amount) == "" ||
		strings.TrimSpace(req.TargetChain) == "" || strings.TrimSpace(req.TargetToken) == "" {
		badRequest(w, "User address, amount, target chain, and target token are required")
		return
	}
	ticket, err := s.core.InitiateBridge(r.Context(), req)
	if err != nil {
		writeError(w, "Failed to initiate bridge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"requestId":     ticket.RequestID,
		"message":       "Bridge request initiated",
		"estimatedTime": ticket.EstimatedTime,
	})
}

func (s *Server) handleCompleteBridge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		badRequest(w, "Request ID is required")
		return
	}
	txHash, err := s.core.CompleteBridge(r.Context(), req.RequestID)
	if err != nil {
		writeError(w, "Failed to complete bridge", err)
		return
	}
	s.logger.Info("bridge completed",
		"component", "server",
		"request_id", req.RequestID,
		"operator", middleware.Subject(r.Context()),
		"scopes", middleware.Scopes(r.Context()),
		"tx", txHash)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"txHash":  txHash,
		"message": "Bridge completed successfully",
	})
}

func (s *Server) handleBridgeRequest(w http.ResponseWriter, r *http.Request) {
	record, err := s.core.LookupBridge(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, "Bridge request not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": record.Value()})
}

func (s *Server) handleSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Supported())
}

// Activity

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.core.Activities(parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, "Failed to fetch activities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *Server) handleUserActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.core.UserActivities(chi.URLParam(r, "address"), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, "Failed to fetch activities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}
