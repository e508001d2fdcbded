package api

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/hammer/pkg/auth"
	pkgdb "github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
)

const (
	ServiceName = "auction.v1.AuctionService"

	PlaceBidProcedure    = "/" + ServiceName + "/PlaceBid"
	ListBidsProcedure    = "/" + ServiceName + "/ListBids"
	GetAuctionProcedure  = "/" + ServiceName + "/GetAuction"
	EstimateFeeProcedure = "/" + ServiceName + "/EstimateFee"

	// CurrentPriceKey is the error metadata key carrying the price a rejected bid has to beat.
	CurrentPriceKey = "current-price"
)

// PublicProcedures need no access token.
var PublicProcedures = []string{ListBidsProcedure, GetAuctionProcedure, EstimateFeeProcedure}

// Bidding is implemented by *bids.BiddingService.
type Bidding interface {
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.Bid, error)
	BidHistory(ctx context.Context, itemID uuid.UUID, order bids.Order) (iter.Seq2[*bids.Bid, error], error)
}

// AuctionReader is the read side of auctions.Registry.
type AuctionReader interface {
	GetOpenAuction(ctx context.Context, itemID uuid.UUID) (*auctions.AuctionItem, error)
}

type AuctionServiceHandler struct {
	bidding   Bidding
	auctions  AuctionReader
	schedules fees.ScheduleRepository
}

func NewAuctionServiceHandler(bidding Bidding, reader AuctionReader, schedules fees.ScheduleRepository) *AuctionServiceHandler {
	return &AuctionServiceHandler{
		bidding:   bidding,
		auctions:  reader,
		schedules: schedules,
	}
}

// Routes mounts every procedure and returns the path prefix to register on a mux.
func (h *AuctionServiceHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, opts...))
	mux.Handle(ListBidsProcedure, connect.NewUnaryHandler(ListBidsProcedure, h.ListBids, opts...))
	mux.Handle(GetAuctionProcedure, connect.NewUnaryHandler(GetAuctionProcedure, h.GetAuction, opts...))
	mux.Handle(EstimateFeeProcedure, connect.NewUnaryHandler(EstimateFeeProcedure, h.EstimateFee, opts...))
	return "/" + ServiceName + "/", mux
}

func (h *AuctionServiceHandler) PlaceBid(
	ctx context.Context,
	req *connect.Request[PlaceBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	// The bidder is whoever the verified token names, never a field of the request.
	claims, ok := auth.GetUserClaims(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}
	bidderID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("token subject is not a valid user id"))
	}

	itemID, err := parseItemID(req.Msg.ItemID)
	if err != nil {
		return nil, err
	}

	bid, err := h.bidding.PlaceBid(ctx, bids.PlaceBidCommand{
		ItemID:            itemID,
		BidderID:          bidderID,
		BidderDisplayName: claims.Name,
		Amount:            req.Msg.Amount,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&PlaceBidResponse{Bid: mapBid(bid)}), nil
}

func (h *AuctionServiceHandler) ListBids(
	ctx context.Context,
	req *connect.Request[ListBidsRequest],
) (*connect.Response[ListBidsResponse], error) {
	itemID, err := parseItemID(req.Msg.ItemID)
	if err != nil {
		return nil, err
	}
	order, err := bids.ParseOrder(req.Msg.Order)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	history, err := h.bidding.BidHistory(ctx, itemID, order)
	if err != nil {
		return nil, toConnectError(err)
	}

	res := &ListBidsResponse{Bids: []Bid{}}
	for bid, err := range history {
		if err != nil {
			return nil, toConnectError(err)
		}
		res.Bids = append(res.Bids, mapBid(bid))
	}
	return connect.NewResponse(res), nil
}

func (h *AuctionServiceHandler) GetAuction(
	ctx context.Context,
	req *connect.Request[GetAuctionRequest],
) (*connect.Response[GetAuctionResponse], error) {
	itemID, err := parseItemID(req.Msg.ItemID)
	if err != nil {
		return nil, err
	}

	item, err := h.auctions.GetOpenAuction(ctx, itemID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetAuctionResponse{Auction: mapAuction(item)}), nil
}

// EstimateFee prices a hypothetical sale against the active schedule.
func (h *AuctionServiceHandler) EstimateFee(
	ctx context.Context,
	req *connect.Request[EstimateFeeRequest],
) (*connect.Response[EstimateFeeResponse], error) {
	price, err := decimal.NewFromString(req.Msg.SalePrice)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("salePrice must be a decimal string"))
	}

	schedule, err := h.schedules.ActiveSchedule(ctx)
	if err != nil {
		if errors.Is(err, fees.ErrNoActiveSchedule) {
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(&EstimateFeeResponse{
		SalePrice:  price.StringFixed(2),
		Fee:        fees.CalculateFee(price, schedule).String(),
		ScheduleID: schedule.ID.String(),
	}), nil
}

func parseItemID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid itemId"))
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// toConnectError maps domain errors onto connect codes.
func toConnectError(err error) error {
	var tooLow *bids.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		cerr := connect.NewError(connect.CodeFailedPrecondition, err)
		cerr.Meta().Set(CurrentPriceKey, tooLow.CurrentPrice.StringFixed(2))
		return cerr
	case errors.Is(err, bids.ErrMissingField), errors.Is(err, bids.ErrInvalidAmount):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, auctions.ErrAuctionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, auctions.ErrAuctionNotActive), errors.Is(err, auctions.ErrInvalidTransition):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, bids.ErrSelfBidForbidden):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, bids.ErrIntegrityFault):
		return connect.NewError(connect.CodeAborted, errors.New("bid could not be recorded, please retry later"))
	case pkgdb.IsLockTimeout(err):
		return connect.NewError(connect.CodeUnavailable, errors.New("auction is busy, please retry"))
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
