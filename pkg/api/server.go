package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/errs"
	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
	"github.com/uhyunpark/stoplimit/pkg/app/core/ledger"
	"github.com/uhyunpark/stoplimit/pkg/app/core/oracle"
	"github.com/uhyunpark/stoplimit/pkg/app/core/order"
	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/crypto"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

const maxBodyBytes = 1 << 20

// Engine is the settlement surface the API drives
type Engine interface {
	FillOrder(ctx context.Context, req *order.FillRequest, tokenIn, tokenOut common.Address, filler settlement.Filler, data []byte) (*settlement.Receipt, error)
	FillOrderOpen(ctx context.Context, req *order.FillRequest, tokenIn, tokenOut common.Address, filler settlement.Filler, data []byte) (*settlement.Receipt, error)
	BatchFillOrder(ctx context.Context, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler settlement.Filler, data []byte) (*settlement.Receipt, error)
	BatchFillOrderOpen(ctx context.Context, reqs []*order.FillRequest, tokenIn, tokenOut common.Address, filler settlement.Filler, data []byte) (*settlement.Receipt, error)
	CancelOrder(ctx context.Context, caller common.Address, o *order.Order) (common.Hash, error)

	Address() common.Address
	Signer() *crypto.EIP712Signer
	Digest(args order.Args, tokenIn, tokenOut common.Address) (common.Hash, error)
	Status(digest common.Hash) (*ledger.Record, error)
	Statuses(digests []common.Hash) ([]*ledger.Record, error)
	Fees() governance.Fees
	Comparison() oracle.Comparison
	IsWhitelisted(filler common.Address) bool
	Whitelisted() []common.Address
	Owner() common.Address
	PendingOwner() common.Address
	VaultBalance(token, owner common.Address) *big.Int
}

// FillerLookup resolves filler addresses to loaded implementations
type FillerLookup interface {
	Lookup(addr common.Address) (settlement.Filler, bool)
}

type Options struct {
	Engine         Engine
	Fillers        FillerLookup
	Gatherer       prometheus.Gatherer // nil serves the default registry
	Logger         *zap.Logger
	AllowedOrigins []string

	// ShutdownTimeout bounds the graceful shutdown in Start. Zero means 5s.
	ShutdownTimeout time.Duration
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   Engine
	fillers  FillerLookup
	router   *mux.Router
	hub      *Hub
	gatherer prometheus.Gatherer
	origins  []string
	shutdown time.Duration
	log      *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	logger := util.Sugar(opts.Logger).Named("api")
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	s := &Server{
		engine:   opts.Engine,
		fillers:  opts.Fillers,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		gatherer: gatherer,
		origins:  origins,
		shutdown: shutdown,
		log:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Settlement
	api.HandleFunc("/fills", s.handleFill(settlement.ModeSingle)).Methods("POST")
	api.HandleFunc("/fills/open", s.handleFill(settlement.ModeOpen)).Methods("POST")
	api.HandleFunc("/fills/batch", s.handleBatchFill(settlement.ModeBatch)).Methods("POST")
	api.HandleFunc("/fills/batch/open", s.handleBatchFill(settlement.ModeBatchOpen)).Methods("POST")

	// Orders
	api.HandleFunc("/orders/digest", s.handleDigest).Methods("POST")
	api.HandleFunc("/orders/status", s.handleStatuses).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/{digest}", s.handleStatus).Methods("GET")

	// Configuration and balances
	api.HandleFunc("/config", s.handleConfig).Methods("GET")
	api.HandleFunc("/fillers/{address}", s.handleFiller).Methods("GET")
	api.HandleFunc("/balances/{token}/{owner}", s.handleBalance).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub is the websocket fan-out; register it as a settlement event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Settlement Handlers
// ==============================

type fillCall struct {
	tokenIn, tokenOut common.Address
	filler            settlement.Filler
	data              []byte
}

func (s *Server) resolveCall(tokenIn, tokenOut, filler, fillerData string) (*fillCall, int, error) {
	in, err := parseAddress("token_in", tokenIn)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	out, err := parseAddress("token_out", tokenOut)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	addr, err := parseAddress("filler", filler)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	f, ok := s.fillers.Lookup(addr)
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("no filler registered at %s", addr.Hex())
	}
	var data []byte
	if fillerData != "" && fillerData != "0x" {
		if data, err = hexutil.Decode(fillerData); err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid filler_data: %w", err)
		}
	}
	return &fillCall{tokenIn: in, tokenOut: out, filler: f, data: data}, 0, nil
}

func (s *Server) handleFill(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FillRequest
		if !decodeBody(w, r, &req) {
			return
		}
		call, status, err := s.resolveCall(req.TokenIn, req.TokenOut, req.Filler, req.FillerData)
		if err != nil {
			respondError(w, status, "invalid fill", err.Error())
			return
		}
		fill, err := req.Request.ToRequest()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid fill request", err.Error())
			return
		}

		run := s.engine.FillOrder
		if mode == settlement.ModeOpen {
			run = s.engine.FillOrderOpen
		}
		receipt, err := run(r.Context(), fill, call.tokenIn, call.tokenOut, call.filler, call.data)
		if err != nil {
			s.respondSettlementError(w, err)
			return
		}
		respondJSON(w, fillResponse(receipt))
	}
}

func (s *Server) handleBatchFill(mode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchFillRequest
		if !decodeBody(w, r, &req) {
			return
		}
		call, status, err := s.resolveCall(req.TokenIn, req.TokenOut, req.Filler, req.FillerData)
		if err != nil {
			respondError(w, status, "invalid fill", err.Error())
			return
		}
		fills := make([]*order.FillRequest, len(req.Requests))
		for i := range req.Requests {
			if fills[i], err = req.Requests[i].ToRequest(); err != nil {
				respondError(w, http.StatusBadRequest, "invalid fill request", fmt.Sprintf("request %d: %v", i, err))
				return
			}
		}

		run := s.engine.BatchFillOrder
		if mode == settlement.ModeBatchOpen {
			run = s.engine.BatchFillOrderOpen
		}
		receipt, err := run(r.Context(), fills, call.tokenIn, call.tokenOut, call.filler, call.data)
		if err != nil {
			s.respondSettlementError(w, err)
			return
		}
		respondJSON(w, fillResponse(receipt))
	}
}

func fillResponse(r *settlement.Receipt) FillResponse {
	out := FillResponse{
		Mode:     r.Mode,
		Filler:   r.Filler.Hex(),
		TokenIn:  r.TokenIn.Hex(),
		TokenOut: r.TokenOut.Hex(),
		Fee:      r.Fee.String(),
		Fills:    make([]FillInfo, len(r.Fills)),
	}
	for i, f := range r.Fills {
		out.Fills[i] = FillInfo{
			Digest:      f.Digest.Hex(),
			Maker:       f.Maker.Hex(),
			Recipient:   f.Recipient.Hex(),
			Amount:      f.Amount.String(),
			ExpectedOut: f.ExpectedOut.String(),
			Fee:         f.Fee.String(),
		}
	}
	return out
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) parseOrder(tokenIn, tokenOut string, p *order.ArgsPayload) (*order.Order, error) {
	in, err := parseAddress("token_in", tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := parseAddress("token_out", tokenOut)
	if err != nil {
		return nil, err
	}
	args, err := p.ToArgs()
	if err != nil {
		return nil, err
	}
	return args.WithTokens(in, out), nil
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var req DigestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.parseOrder(req.TokenIn, req.TokenOut, &req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	signer := s.engine.Signer()
	digest, err := signer.HashOrder(o)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	typed, err := signer.TypedDataJSON(o)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "typed data", err.Error())
		return
	}
	respondJSON(w, DigestResponse{Digest: digest.Hex(), TypedData: typed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	digest, err := parseDigest(mux.Vars(r)["digest"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid digest", err.Error())
		return
	}
	rec, err := s.engine.Status(digest)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status lookup failed", err.Error())
		return
	}
	respondJSON(w, orderStatus(digest, rec))
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	digests := make([]common.Hash, len(req.Digests))
	for i, raw := range req.Digests {
		d, err := parseDigest(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid digest", err.Error())
			return
		}
		digests[i] = d
	}
	recs, err := s.engine.Statuses(digests)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "status lookup failed", err.Error())
		return
	}
	out := make([]OrderStatus, len(recs))
	for i, rec := range recs {
		out[i] = orderStatus(digests[i], rec)
	}
	respondJSON(w, out)
}

func orderStatus(d common.Hash, rec *ledger.Record) OrderStatus {
	return OrderStatus{Digest: d.Hex(), Filled: rec.Filled.String(), Cancelled: rec.Cancelled}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.parseOrder(req.TokenIn, req.TokenOut, &req.Order)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	raw, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}
	sig, err := order.SignatureFromBytes(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	signer := s.engine.Signer()
	digest, err := signer.HashOrder(o)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	cancelDigest, err := signer.HashCancel(digest, o.Maker)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cancel digest", err.Error())
		return
	}
	caller, err := crypto.RecoverAddress(cancelDigest, sig)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid signature", err.Error())
		return
	}

	if _, err := s.engine.CancelOrder(r.Context(), caller, o); err != nil {
		s.respondSettlementError(w, err)
		return
	}
	respondJSON(w, CancelResponse{Status: "cancelled", Digest: digest.Hex()})
}

// ==============================
// Configuration Handlers
// ==============================

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	fees := s.engine.Fees()
	chainID := ""
	if id, err := s.engine.Signer().ChainID(); err == nil {
		chainID = id.String()
	}
	wl := s.engine.Whitelisted()
	whitelist := make([]string, len(wl))
	for i, a := range wl {
		whitelist[i] = a.Hex()
	}
	respondJSON(w, ConfigInfo{
		Engine:       s.engine.Address().Hex(),
		ChainID:      chainID,
		Owner:        s.engine.Owner().Hex(),
		PendingOwner: s.engine.PendingOwner().Hex(),
		FeeRecipient: fees.Recipient.Hex(),
		FeeNumerator: fees.Numerator,
		FeeDivisor:   fees.Divisor,
		Comparison:   s.engine.Comparison().String(),
		Whitelist:    whitelist,
	})
}

func (s *Server) handleFiller(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	_, registered := s.fillers.Lookup(addr)
	respondJSON(w, FillerInfo{
		Address:     addr.Hex(),
		Whitelisted: s.engine.IsWhitelisted(addr),
		Registered:  registered,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, err := parseAddress("token", vars["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	owner, err := parseAddress("owner", vars["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{
		Token:   token.Hex(),
		Owner:   owner.Hex(),
		Balance: s.engine.VaultBalance(token, owner).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func parseDigest(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// statusOf maps a rejection code to the HTTP status it is reported with.
func statusOf(code errs.Code) int {
	switch code {
	case errs.InvalidAmount:
		return http.StatusBadRequest
	case errs.MakerMismatch, errs.NotMaker, errs.NotOwner, errs.FillerNotWhitelisted:
		return http.StatusForbidden
	case errs.Expired, errs.NotStarted, errs.StopNotReached, errs.Overfilled, errs.OrderCancelled, errs.InvalidOwner:
		return http.StatusConflict
	case errs.InsufficientProceeds, errs.InsufficientFee, errs.Underflow, errs.CustodyFailed, errs.FillerFailed, errs.UnknownOracle:
		return http.StatusUnprocessableEntity
	case errs.OracleFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondSettlementError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	resp := ErrorResponse{
		Error:     "settlement rejected",
		Code:      code,
		Retriable: code.Retriable(),
		Message:   err.Error(),
	}
	if d, ok := errs.DigestOf(err); ok {
		resp.Digest = d.Hex()
	}
	if code == errs.Unknown {
		s.log.Errorw("settlement failed", "err", err)
		resp.Error = "internal error"
	}
	respondJSONStatus(w, statusOf(code), resp)
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
