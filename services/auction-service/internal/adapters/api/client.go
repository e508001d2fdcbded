package api

import (
	"context"

	"connectrpc.com/connect"
)

// AuctionServiceClient calls the auction service over the connect protocol with JSON bodies.
type AuctionServiceClient struct {
	placeBid    *connect.Client[PlaceBidRequest, PlaceBidResponse]
	listBids    *connect.Client[ListBidsRequest, ListBidsResponse]
	getAuction  *connect.Client[GetAuctionRequest, GetAuctionResponse]
	estimateFee *connect.Client[EstimateFeeRequest, EstimateFeeResponse]
}

func NewAuctionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuctionServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &AuctionServiceClient{
		placeBid:    connect.NewClient[PlaceBidRequest, PlaceBidResponse](httpClient, baseURL+PlaceBidProcedure, opts...),
		listBids:    connect.NewClient[ListBidsRequest, ListBidsResponse](httpClient, baseURL+ListBidsProcedure, opts...),
		getAuction:  connect.NewClient[GetAuctionRequest, GetAuctionResponse](httpClient, baseURL+GetAuctionProcedure, opts...),
		estimateFee: connect.NewClient[EstimateFeeRequest, EstimateFeeResponse](httpClient, baseURL+EstimateFeeProcedure, opts...),
	}
}

func (c *AuctionServiceClient) PlaceBid(ctx context.Context, req *connect.Request[PlaceBidRequest]) (*connect.Response[PlaceBidResponse], error) {
	return c.placeBid.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) ListBids(ctx context.Context, req *connect.Request[ListBidsRequest]) (*connect.Response[ListBidsResponse], error) {
	return c.listBids.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) GetAuction(ctx context.Context, req *connect.Request[GetAuctionRequest]) (*connect.Response[GetAuctionResponse], error) {
	return c.getAuction.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) EstimateFee(ctx context.Context, req *connect.Request[EstimateFeeRequest]) (*connect.Response[EstimateFeeResponse], error) {
	return c.estimateFee.CallUnary(ctx, req)
}
