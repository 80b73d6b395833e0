package core

// Side of the book an order rests on.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide converts the wire representation ("buy"/"sell") to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return 0, false
	}
}

// Price and volume bounds shared by every market. Marks run 0-100 and a
// single order carries at most 10 units.
const (
	MinPrice  int64 = 0
	MaxPrice  int64 = 100
	MinVolume int64 = 1
	MaxVolume int64 = 10
)

// Order is a resting limit order. Volume is mutated in place by the matching
// engine on partial fills; an order leaves the book when Volume reaches 0 and
// is never re-inserted.
type Order struct {
	ID        string `json:"id"`
	MarketID  string `json:"marketId"`
	UserID    string `json:"userId"`
	Side      Side   `json:"side"`
	Price     int64  `json:"price"`
	Volume    int64  `json:"volume"`
	CreatedAt int64  `json:"createdAt"` // Unix nanoseconds, tie-break at equal price
}

// Trade is an executed cross between one buy and one sell order.
// Immutable once recorded.
type Trade struct {
	ID          string `json:"id"`
	MarketID    string `json:"marketId"`
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	Price       int64  `json:"price"`
	Volume      int64  `json:"volume"`
	ExecutedAt  int64  `json:"executedAt"` // Unix nanoseconds
}

// Market identifies a tradable book. Immutable once created.
type Market struct {
	MarketID    string `json:"marketId"`
	DisplayName string `json:"displayName"`
}

// Comment is an anonymous newsfeed entry. No user identity is stored.
type Comment struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"` // Unix nanoseconds
}

// MaxCommentLen caps newsfeed comment bodies.
const MaxCommentLen = 100

// ValidateOrder checks the domain bounds of a prospective order. Runs at the
// submission boundary, before anything reaches a book.
func ValidateOrder(price, volume int64) error {
	if price < MinPrice || price > MaxPrice {
		return &ValidationError{Field: "price", Reason: "must be between 0 and 100"}
	}
	if volume < MinVolume || volume > MaxVolume {
		return &ValidationError{Field: "volume", Reason: "must be between 1 and 10"}
	}
	return nil
}
