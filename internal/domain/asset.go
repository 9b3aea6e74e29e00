package domain

import "github.com/shopspring/decimal"

// Asset is a single currency known to the engine.
type Asset struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// AssetPair is a tradeable instrument (base/quote).
type AssetPair struct {
	ID        string          `json:"id"` // e.g. "BTCUSD"
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Accuracy  int32           `json:"accuracy"` // display decimal places for prices
	MinVolume decimal.Decimal `json:"min_volume"`
}
