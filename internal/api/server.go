// Package api serves the marketplace over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/entity"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/marketplace"
	"github.com/ZilDuck/nft-escrow-marketplace/internal/repository"
	"github.com/ZilDuck/nft-escrow-marketplace/pkg/zil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrUnknownMethod = errors.New("unknown method")

type Options struct {
	Symbol    string
	Decimals  int32
	DevCalls  bool
	RateLimit float64
	RateBurst int
}

type Server struct {
	market   marketplace.Marketplace
	balances Balances
	actions  repository.ActionRepository
	metrics  http.Handler
	limiter  *rate.Limiter
	opts     Options
}

func NewServer(
	market marketplace.Marketplace,
	balances Balances,
	actions repository.ActionRepository,
	metrics http.Handler,
	opts Options,
) Server {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return Server{
		market:   market,
		balances: balances,
		actions:  actions,
		metrics:  metrics,
		limiter:  rate.NewLimiter(limit, opts.RateBurst),
		opts:     opts,
	}
}

func (s Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.rateLimit)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/market", s.handleMarket).Methods("GET")
	r.HandleFunc("/listings", s.handleListings).Methods("GET")
	r.HandleFunc("/listings/{collection}/{tokenId}", s.handleListing).Methods("GET")
	r.HandleFunc("/listings/{collection}/{tokenId}/actions", s.handleTokenActions).Methods("GET")
	r.HandleFunc("/collections/{collection}/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/accounts/{address}", s.handleAccount).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}
	if s.opts.DevCalls {
		r.HandleFunc("/calls", s.handleCall).Methods("POST")
	}
	r.NotFoundHandler = notFoundHandler()

	return r
}

func (s Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			zap.L().With(zap.String("path", r.URL.Path)).Warn("Api: Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type marketResponse struct {
	Address        string `json:"address"`
	AddressBech32  string `json:"addressBech32"`
	Owner          string `json:"owner"`
	Treasury       string `json:"treasury"`
	TreasuryBech32 string `json:"treasuryBech32"`
	FeeBps         uint64 `json:"feeBps"`
	Listings       int    `json:"listings"`
}

func (s Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	state := s.market.State(r.Context())

	writeJSON(w, http.StatusOK, marketResponse{
		Address:        state.Address.Hex(),
		AddressBech32:  zil.ToBech32(state.Address),
		Owner:          state.Owner.Hex(),
		Treasury:       state.Treasury.Hex(),
		TreasuryBech32: zil.ToBech32(state.Treasury),
		FeeBps:         state.FeeBps,
		Listings:       len(s.market.Listings(r.Context())),
	})
}

func (s Server) handleListings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Listings(r.Context()))
}

func (s Server) handleListing(w http.ResponseWriter, r *http.Request) {
	key, err := getListingKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, listed := s.market.Listing(r.Context(), key)
	writeJSON(w, http.StatusOK, entity.NewListingView(key, listing, listed))
}

func (s Server) handleTokenActions(w http.ResponseWriter, r *http.Request) {
	key, err := getListingKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actions, err := s.actions.GetActionsForToken(key.Collection.Hex(), key.TokenId)
	if err != nil {
		zap.L().With(zap.Error(err), zap.String("listing", key.String())).Error("Api: Failed to get actions")
		writeError(w, http.StatusInternalServerError, "Failed to get actions")
		return
	}

	writeJSON(w, http.StatusOK, actions)
}

func (s Server) handleStats(w http.ResponseWriter, r *http.Request) {
	collection, ok := zil.ParseAddress(mux.Vars(r)["collection"])
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid collection")
		return
	}

	stats, err := s.actions.GetStats(collection.Hex())
	if err != nil {
		zap.L().With(zap.Error(err), zap.String("collection", collection.Hex())).Error("Api: Failed to get stats")
		writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type accountResponse struct {
	Address string `json:"address"`
	Bech32  string `json:"bech32"`
	Balance string `json:"balance"`
	Display string `json:"display"`
}

func (s Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	address, ok := zil.ParseAddress(mux.Vars(r)["address"])
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	balance := s.balances.BalanceOf(r.Context(), address)
	writeJSON(w, http.StatusOK, accountResponse{
		Address: address.Hex(),
		Bech32:  zil.ToBech32(address),
		Balance: balance.Dec(),
		Display: fmt.Sprintf("%s %s", entity.FormatAmount(balance, s.opts.Decimals), s.opts.Symbol),
	})
}

func getListingKey(r *http.Request) (entity.ListingKey, error) {
	collection, ok := zil.ParseAddress(mux.Vars(r)["collection"])
	if !ok {
		return entity.ListingKey{}, errors.New("Invalid collection")
	}

	tokenId, err := strconv.ParseUint(mux.Vars(r)["tokenId"], 10, 64)
	if err != nil {
		return entity.ListingKey{}, errors.New("Invalid tokenId")
	}

	return entity.ListingKey{Collection: collection, TokenId: tokenId}, nil
}

func parseAddress(value string) (common.Address, error) {
	address, ok := zil.ParseAddress(value)
	if !ok {
		return common.Address{}, fmt.Errorf("Invalid address %q", value)
	}

	return address, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().With(zap.Error(err)).Error("Api: Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func notFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Page not found")
	})
}
