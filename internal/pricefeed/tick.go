package pricefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var errNoPrice = errors.New("missing price field")

// Tick is one aggregate trade message
type Tick struct {
	Price     decimal.Decimal
	TradeTime int64
}

type aggTrade struct {
	Price     *string `json:"p"`
	TradeTime int64   `json:"T"`
}

func parseTick(msg []byte) (Tick, error) {
	var raw aggTrade
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if raw.Price == nil {
		return Tick{}, errNoPrice
	}
	price, err := decimal.NewFromString(*raw.Price)
	if err != nil {
		return Tick{}, fmt.Errorf("parse price %q: %w", *raw.Price, err)
	}
	return Tick{Price: price, TradeTime: raw.TradeTime}, nil
}
