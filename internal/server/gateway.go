package server

import (
	"context"
	"fmt"
	"net/http"

	"LiquidityBridge/internal/core"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 64 << 10

// NewGatewayMux exposes the service as HTTP/JSON. Handlers call svc in
// process with the same authentication rules as the gRPC interceptor.
func NewGatewayMux(svc BridgeServer, auth *Authenticator) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	g := &gateway{svc: svc, auth: auth, mux: mux, marshaler: &runtime.JSONBuiltin{}}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/deposits", g.deposit},
		{http.MethodGet, "/v1/offers/{owner}", g.listOffers},
		{http.MethodPost, "/v1/withdrawals", g.withdraw},
		{http.MethodPost, "/v1/buys", g.buy},
		{http.MethodGet, "/v1/address", g.address},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

type gateway struct {
	svc       BridgeServer
	auth      *Authenticator
	mux       *runtime.ServeMux
	marshaler runtime.Marshaler
}

func (g *gateway) deposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req core.DepositRequest
	g.serve(w, r, &req, func(ctx context.Context) (any, error) {
		return g.svc.Deposit(ctx, &req)
	})
}

func (g *gateway) listOffers(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.serve(w, r, nil, func(ctx context.Context) (any, error) {
		return g.svc.ListOffers(ctx, &ListOffersRequest{Owner: params["owner"]})
	})
}

func (g *gateway) withdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req WithdrawRequest
	g.serve(w, r, &req, func(ctx context.Context) (any, error) {
		return g.svc.Withdraw(ctx, &req)
	})
}

func (g *gateway) buy(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req core.BuyRequest
	g.serve(w, r, &req, func(ctx context.Context) (any, error) {
		return g.svc.Buy(ctx, &req)
	})
}

func (g *gateway) address(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.serve(w, r, nil, func(ctx context.Context) (any, error) {
		return g.svc.GetAddress(ctx, &GetAddressRequest{})
	})
}

// serve authenticates, decodes the body into req (when non-nil), runs call
// and writes the JSON response or a status-mapped error.
func (g *gateway) serve(w http.ResponseWriter, r *http.Request, req any, call func(ctx context.Context) (any, error)) {
	ctx, err := g.auth.contextFor(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		g.fail(w, r, err)
		return
	}

	if req != nil {
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := g.marshaler.NewDecoder(body).Decode(req); err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
			return
		}
	}

	resp, err := call(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	out, err := g.marshaler.Marshal(resp)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "encode response: %v", err))
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(resp))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, err)
}
