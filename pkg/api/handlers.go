package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Layr-Labs/abstract-dao-go/pkg/env"
	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError answers with the error's code and the status it maps to. Uncoded errors
// are reported as internal without leaking their message.
func writeError(w http.ResponseWriter, err error) {
	code, ok := errs.CodeOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, &types.ErrorResponse{Error: "ERR_INTERNAL", Message: "internal error"})
		return
	}
	writeJSON(w, errs.HTTPStatus(code), &types.ErrorResponse{Error: string(code), Message: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errs.New(errs.CodeCantParseData, "invalid request body: %v", err)
	}
	return nil
}

func parseRequestId(r *http.Request) (types.RequestId, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errs.New(errs.CodeCantParseData, "invalid request id %q", raw)
	}
	return types.RequestId(id), nil
}

// attachedDeposit reads X-Attached-Deposit; an absent header attaches nothing.
func attachedDeposit(r *http.Request) (*big.Int, error) {
	raw := r.Header.Get(types.HeaderAttachedDeposit)
	if raw == "" {
		return new(big.Int), nil
	}
	q, err := types.ParseQuantity(raw)
	if err != nil {
		return nil, errs.New(errs.CodeInvalidAmount, "invalid %s header: %v", types.HeaderAttachedDeposit, err)
	}
	return q.Big(), nil
}

func prepaidGas(r *http.Request) (types.Gas, error) {
	raw := r.Header.Get(types.HeaderPrepaidGas)
	if raw == "" {
		return DefaultPrepaidGas, nil
	}
	gas, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errs.New(errs.CodeCantParseData, "invalid %s header %q", types.HeaderPrepaidGas, raw)
	}
	return types.Gas(gas), nil
}

// callContext assembles the host call context for an authenticated request.
func (s *Server) callContext(r *http.Request) (*env.CallContext, error) {
	caller, err := s.authenticator.Authenticate(r)
	if err != nil {
		return nil, err
	}
	deposit, err := attachedDeposit(r)
	if err != nil {
		return nil, err
	}
	return &env.CallContext{
		Predecessor:     caller,
		AttachedDeposit: deposit,
		BlockTimestamp:  s.clock.Now(),
	}, nil
}

// handleRegisterSignatureRequest handles POST /requests
func (s *Server) handleRegisterSignatureRequest(w http.ResponseWriter, r *http.Request) {
	call, err := s.callContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var input types.InputRequest
	if err := decodeBody(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.contract.RegisterSignatureRequest(r.Context(), call, &input)
	if err != nil {
		s.logger.Sugar().Infow("Rejected signature request registration",
			"correlation_id", RequestIdFromContext(r.Context()),
			"caller", call.Predecessor,
			"error", err,
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetRequest handles GET /requests/{id}
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.contract.GetRequest(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleGetSignature handles POST /requests/{id}/signature
func (s *Server) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	call, err := s.callContext(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if call.PrepaidGas, err = prepaidGas(r); err != nil {
		writeError(w, err)
		return
	}
	call.UsedGas = s.usedGasOverhead

	var fee types.FeePayload
	if err := decodeBody(w, r, &fee); err != nil {
		writeError(w, err)
		return
	}

	pending, resp, err := s.contract.GetSignature(call, id, &fee)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.signatureTimeout)
	defer cancel()

	sig, err := pending.Wait(ctx)
	if err != nil {
		if _, coded := errs.CodeOf(err); !coded {
			err = errors.Wrap(&errs.CodedError{Code: errs.CodeSigner, Message: err.Error()}, "signature not received")
		}
		s.logger.Sugar().Warnw("Signature request failed",
			"correlation_id", RequestIdFromContext(r.Context()),
			"request_id", id,
			"payload", resp.Payload.Hex(),
			"error", err,
		)
		writeError(w, err)
		return
	}
	resp.Signature = sig
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSigner handles GET /signer
func (s *Server) handleGetSigner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &types.SignerResponse{SignerId: s.contract.GetSignerId()})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.persistence.HealthCheck(); err != nil {
		s.logger.Sugar().Errorw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": fmt.Sprintf("unhealthy: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
