package api

import (
	"encoding/json"
	"net/http"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const (
	CallList        = "list"
	CallCancel      = "cancel"
	CallBuy         = "buy"
	CallSetFee      = "setFee"
	CallSetTreasury = "setTreasury"
)

// CallRequest executes one marketplace operation as Caller. Price is in whole currency units.
type CallRequest struct {
	Method     string `json:"method"`
	Caller     string `json:"caller"`
	Collection string `json:"collection,omitempty"`
	TokenId    uint64 `json:"tokenId,omitempty"`
	Price      string `json:"price,omitempty"`
	FeeBps     uint64 `json:"feeBps,omitempty"`
	Treasury   string `json:"treasury,omitempty"`
}

type callResponse struct {
	Method string `json:"method"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	call, err := s.prepare(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := call(r); err != nil {
		if reason := marketplace.Reason(err); reason != "" {
			writeJSON(w, http.StatusUnprocessableEntity, callResponse{req.Method, "reverted", reason})
			return
		}
		zap.L().With(zap.Error(err), zap.String("method", req.Method)).Error("Api: Call failed")
		writeJSON(w, http.StatusInternalServerError, callResponse{req.Method, "failed", err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, callResponse{Method: req.Method, Status: "ok"})
}

func (s Server) prepare(req CallRequest) (func(r *http.Request) error, error) {
	caller, err := parseAddress(req.Caller)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case CallList, CallBuy:
		collection, err := parseAddress(req.Collection)
		if err != nil {
			return nil, err
		}
		price, err := s.parsePrice(req.Price)
		if err != nil {
			return nil, err
		}
		if req.Method == CallList {
			return func(r *http.Request) error {
				return s.market.List(r.Context(), caller, collection, req.TokenId, price)
			}, nil
		}
		return func(r *http.Request) error {
			return s.market.Buy(r.Context(), caller, collection, req.TokenId, price)
		}, nil

	case CallCancel:
		collection, err := parseAddress(req.Collection)
		if err != nil {
			return nil, err
		}
		return func(r *http.Request) error {
			return s.market.CancelListing(r.Context(), caller, collection, req.TokenId)
		}, nil

	case CallSetFee:
		return func(r *http.Request) error {
			return s.market.SetFee(r.Context(), caller, req.FeeBps)
		}, nil

	case CallSetTreasury:
		treasury, err := parseAddress(req.Treasury)
		if err != nil {
			return nil, err
		}
		return func(r *http.Request) error {
			return s.market.SetTreasury(r.Context(), caller, treasury)
		}, nil
	}

	return nil, ErrUnknownMethod
}

func (s Server) parsePrice(value string) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}

	return entity.ParseAmount(value, s.opts.Decimals)
}
