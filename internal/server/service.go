package server

import (
	"context"

	"LiquidityBridge/internal/core"
	"LiquidityBridge/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "bridge.v1.BridgeService"

// Bridge is the subset of *core.Bridge the transport calls.
type Bridge interface {
	Deposit(ctx context.Context, caller ledger.Principal, req core.DepositRequest) (ledger.LiquidityOffer, error)
	Withdraw(ctx context.Context, caller ledger.Principal, chain string) ([]ledger.LiquidityOffer, error)
	Buy(ctx context.Context, req core.BuyRequest) (*core.SettlementReceipt, error)
	ListOffers(owner ledger.Principal) []ledger.LiquidityOffer
	OwnAddress() (common.Address, error)
}

type DepositResponse struct {
	Offer ledger.LiquidityOffer `json:"offer"`
}

type ListOffersRequest struct {
	Owner string `json:"owner"`
}

type ListOffersResponse struct {
	Offers []ledger.LiquidityOffer `json:"offers"`
}

type WithdrawRequest struct {
	Chain string `json:"chain"`
}

type WithdrawResponse struct {
	Offers []ledger.LiquidityOffer `json:"offers"`
}

type BuyResponse struct {
	Receipt *core.SettlementReceipt `json:"receipt"`
}

type GetAddressRequest struct{}

type GetAddressResponse struct {
	Address string `json:"address"`
}

// BridgeServer is the gRPC service contract.
type BridgeServer interface {
	Deposit(context.Context, *core.DepositRequest) (*DepositResponse, error)
	ListOffers(context.Context, *ListOffersRequest) (*ListOffersResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*WithdrawResponse, error)
	Buy(context.Context, *core.BuyRequest) (*BuyResponse, error)
	GetAddress(context.Context, *GetAddressRequest) (*GetAddressResponse, error)
}

// bridgeService adapts core errors and the caller principal.
type bridgeService struct {
	bridge Bridge
}

func NewBridgeService(b Bridge) BridgeServer {
	return &bridgeService{bridge: b}
}

func (s *bridgeService) Deposit(ctx context.Context, req *core.DepositRequest) (*DepositResponse, error) {
	caller, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	offer, err := s.bridge.Deposit(ctx, caller, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositResponse{Offer: offer}, nil
}

func (s *bridgeService) ListOffers(ctx context.Context, req *ListOffersRequest) (*ListOffersResponse, error) {
	caller, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if req.Owner != "" && ledger.Principal(req.Owner) != caller {
		return nil, status.Error(codes.PermissionDenied, "offers of another principal")
	}
	offers := s.bridge.ListOffers(caller)
	if offers == nil {
		offers = []ledger.LiquidityOffer{}
	}
	return &ListOffersResponse{Offers: offers}, nil
}

func (s *bridgeService) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	caller, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	offers, err := s.bridge.Withdraw(ctx, caller, req.Chain)
	if err != nil {
		return nil, toStatus(err)
	}
	return &WithdrawResponse{Offers: offers}, nil
}

func (s *bridgeService) Buy(ctx context.Context, req *core.BuyRequest) (*BuyResponse, error) {
	receipt, err := s.bridge.Buy(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BuyResponse{Receipt: receipt}, nil
}

func (s *bridgeService) GetAddress(context.Context, *GetAddressRequest) (*GetAddressResponse, error) {
	addr, err := s.bridge.OwnAddress()
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetAddressResponse{Address: addr.Hex()}, nil
}

// BridgeServiceDesc is registered on a grpc.Server with the JSON codec.
var BridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deposit", BridgeServer.Deposit),
		unary("ListOffers", BridgeServer.ListOffers),
		unary("Withdraw", BridgeServer.Withdraw),
		unary("Buy", BridgeServer.Buy),
		unary("GetAddress", BridgeServer.GetAddress),
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unary[Req, Resp any](name string, call func(BridgeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BridgeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BridgeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls BridgeService over a connection using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, name string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.conn.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, in *core.DepositRequest, opts ...grpc.CallOption) (*DepositResponse, error) {
	return invoke[core.DepositRequest, DepositResponse](ctx, c, "Deposit", in, opts...)
}

func (c *Client) ListOffers(ctx context.Context, in *ListOffersRequest, opts ...grpc.CallOption) (*ListOffersResponse, error) {
	return invoke[ListOffersRequest, ListOffersResponse](ctx, c, "ListOffers", in, opts...)
}

func (c *Client) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*WithdrawResponse, error) {
	return invoke[WithdrawRequest, WithdrawResponse](ctx, c, "Withdraw", in, opts...)
}

func (c *Client) Buy(ctx context.Context, in *core.BuyRequest, opts ...grpc.CallOption) (*BuyResponse, error) {
	return invoke[core.BuyRequest, BuyResponse](ctx, c, "Buy", in, opts...)
}

func (c *Client) GetAddress(ctx context.Context, opts ...grpc.CallOption) (*GetAddressResponse, error) {
	return invoke[GetAddressRequest, GetAddressResponse](ctx, c, "GetAddress", &GetAddressRequest{}, opts...)
}
