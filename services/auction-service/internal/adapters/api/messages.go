package api

import (
	"time"

	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
)

// Money travels as a decimal string with two places, never as a float.

type PlaceBidRequest struct {
	ItemID string `json:"itemId"`
	Amount string `json:"amount"`
}

type PlaceBidResponse struct {
	Bid Bid `json:"bid"`
}

type ListBidsRequest struct {
	ItemID string `json:"itemId"`
	// Order is "desc" (default) or "asc" by amount.
	Order string `json:"order,omitempty"`
}

type ListBidsResponse struct {
	Bids []Bid `json:"bids"`
}

type GetAuctionRequest struct {
	ItemID string `json:"itemId"`
}

type GetAuctionResponse struct {
	Auction Auction `json:"auction"`
}

type EstimateFeeRequest struct {
	SalePrice string `json:"salePrice"`
}

type EstimateFeeResponse struct {
	SalePrice  string `json:"salePrice"`
	Fee        string `json:"fee"`
	ScheduleID string `json:"scheduleId"`
}

type Bid struct {
	ID                string `json:"id"`
	ItemID            string `json:"itemId"`
	BidderID          string `json:"bidderId"`
	BidderDisplayName string `json:"bidderDisplayName"`
	Amount            string `json:"amount"`
	PlacedAt          string `json:"placedAt"`
}

type Auction struct {
	ID                   string  `json:"id"`
	SellerID             string  `json:"sellerId"`
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	FloorPrice           string  `json:"floorPrice"`
	CurrentBid           string  `json:"currentBid"`
	EndTime              string  `json:"endTime"`
	Status               string  `json:"status"`
	AuthenticationStatus string  `json:"authenticationStatus"`
	EndedAt              *string `json:"endedAt,omitempty"`
}

func mapBid(bid *bids.Bid) Bid {
	return Bid{
		ID:                formatID(bid.ID),
		ItemID:            bid.ItemID.String(),
		BidderID:          bid.BidderID.String(),
		BidderDisplayName: bid.BidderDisplayName,
		Amount:            bid.Amount.StringFixed(2),
		PlacedAt:          bid.PlacedAt.UTC().Format(time.RFC3339Nano),
	}
}

func mapAuction(item *auctions.AuctionItem) Auction {
	out := Auction{
		ID:                   item.ID.String(),
		SellerID:             item.SellerID.String(),
		Title:                item.Title,
		Description:          item.Description,
		FloorPrice:           item.FloorPrice.StringFixed(2),
		CurrentBid:           item.CurrentBid.StringFixed(2),
		EndTime:              item.EndTime.UTC().Format(time.RFC3339),
		Status:               string(item.Status),
		AuthenticationStatus: item.AuthenticationStatus,
	}
	if item.EndedAt != nil {
		endedAt := item.EndedAt.UTC().Format(time.RFC3339)
		out.EndedAt = &endedAt
	}
	return out
}
