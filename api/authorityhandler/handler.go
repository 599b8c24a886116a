// Package authorityhandler exposes an authority.Service over the
// JSON-RPC wire contract defined in the api package.
package authorityhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/authority"
	"github.com/candinet/account-recovery-backend/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler dispatches authority RPC methods.
type Handler struct {
	svc *authority.Service
	log *slog.Logger

	// Requests, when set, counts calls by method and outcome.
	Requests *prometheus.CounterVec

	methods map[string]rpcMethod
}

type rpcMethod func(ctx context.Context, params json.RawMessage) (any, error)

// NewHandler creates a handler for the given authority service.
func NewHandler(svc *authority.Service, log *slog.Logger) *Handler {
	h := &Handler{svc: svc, log: log}
	h.methods = map[string]rpcMethod{
		api.MethodCreateRecoveryRequest:   h.createRecoveryRequest,
		api.MethodSignRecoveryRequest:     h.signRecoveryRequest,
		api.MethodExecuteRecoveryRequest:  h.executeRecoveryRequest,
		api.MethodFinalizeRecoveryRequest: h.finalizeRecoveryRequest,
		api.MethodGetRecoveryRequests:     h.getRecoveryRequests,
		api.MethodGetNetworkConfig:        h.getNetworkConfig,

		api.MethodRegister:                        h.register,
		api.MethodSubmitRegistrationChallenge:     h.submitRegistrationChallenge,
		api.MethodListRegistrations:               h.listRegistrations,
		api.MethodDeleteRegistration:              h.deleteRegistration,
		api.MethodRequestSignature:                h.requestSignature,
		api.MethodSubmitSignatureChallenge:        h.submitSignatureChallenge,
		api.MethodCreateAndExecuteRecoveryRequest: h.createAndExecuteRecoveryRequest,
	}
	return h
}

// RegisterRoutes mounts the RPC endpoint on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(api.RPCPath, h.HandleRPC)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

// HandleRPC processes one JSON-RPC call. Protocol and domain failures
// are reported in the JSON-RPC error object with HTTP status 200;
// non-200 statuses are reserved for transport-level problems.
func (h *Handler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, nil, api.CodeParse, "request body is not valid JSON-RPC")
		return
	}

	method, ok := h.methods[req.Method]
	if !ok {
		h.count(req.Method, "method_not_found")
		h.writeError(w, req.ID, api.CodeMethodNotFound, "unknown method "+req.Method)
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			h.count(req.Method, string(apiErr.Kind))
			h.writeError(w, req.ID, api.CodeForKind(apiErr.Kind), apiErr.Message)
			return
		}

		h.count(req.Method, "internal_error")
		h.log.Error("RPC method failed", "method", req.Method, "err", err)
		h.writeError(w, req.ID, api.CodeInternal, "internal error")
		return
	}

	h.count(req.Method, "ok")
	h.write(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (h *Handler) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	h.write(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcErrorBody{Code: code, Message: message}})
}

func (h *Handler) write(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("could not write RPC response", "err", err)
	}
}

func (h *Handler) count(method, outcome string) {
	if h.Requests != nil {
		h.Requests.WithLabelValues(method, outcome).Inc()
	}
}

func decodeParams[T any](params json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(params, &out); err != nil {
		return nil, api.NewError(api.ErrKindBadRequest, "invalid params: %v", err)
	}
	return &out, nil
}

func (h *Handler) createRecoveryRequest(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.CreateRecoveryRequestParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.CreateRecoveryRequest(ctx, p)
}

func (h *Handler) signRecoveryRequest(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.SignRecoveryRequestParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.SignRecoveryRequest(ctx, p)
}

func (h *Handler) executeRecoveryRequest(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.RequestIDParams](params)
	if err != nil {
		return nil, err
	}
	req, err := h.svc.ExecuteRecoveryRequest(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &api.ExecutionResult{Request: req}, nil
}

func (h *Handler) finalizeRecoveryRequest(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.RequestIDParams](params)
	if err != nil {
		return nil, err
	}
	req, err := h.svc.FinalizeRecoveryRequest(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &api.ExecutionResult{Request: req}, nil
}

func (h *Handler) getRecoveryRequests(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.GetRecoveryRequestsParams](params)
	if err != nil {
		return nil, err
	}
	status, err := interfaces.ParseRecoveryStatus(p.Status)
	if err != nil {
		return nil, api.NewError(api.ErrKindBadRequest, "%v", err)
	}
	reqs, err := h.svc.RecoveryRequests(p.Account, uint64(p.ChainID), uint64(p.Nonce), status)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []*interfaces.RecoveryRequest{}
	}
	return reqs, nil
}

func (h *Handler) getNetworkConfig(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.GetNetworkConfigParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.NetworkConfig(uint64(p.ChainID))
}

func (h *Handler) register(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.RegisterParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.Register(ctx, p)
}

func (h *Handler) submitRegistrationChallenge(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.ChallengeParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.SubmitRegistrationChallenge(ctx, p)
}

func (h *Handler) listRegistrations(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.AccountStatementParams](params)
	if err != nil {
		return nil, err
	}
	regs, err := h.svc.ListRegistrations(ctx, p)
	if err != nil {
		return nil, err
	}
	if regs == nil {
		regs = []*interfaces.Registration{}
	}
	return regs, nil
}

func (h *Handler) deleteRegistration(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.DeleteRegistrationParams](params)
	if err != nil {
		return nil, err
	}
	if err := h.svc.DeleteRegistration(ctx, p); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

func (h *Handler) requestSignature(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.RequestSignatureParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.RequestSignature(ctx, p)
}

func (h *Handler) submitSignatureChallenge(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.SubmitSignatureChallengeParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.SubmitSignatureChallenge(ctx, p)
}

func (h *Handler) createAndExecuteRecoveryRequest(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[api.CreateRecoveryRequestParams](params)
	if err != nil {
		return nil, err
	}
	return h.svc.CreateAndExecuteRecoveryRequest(ctx, p)
}
