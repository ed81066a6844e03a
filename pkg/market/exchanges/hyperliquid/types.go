package hyperliquid

// InfoRequest is the shared envelope for Hyperliquid info endpoint requests.
type InfoRequest struct {
	Type string      `json:"type"`
	Req  interface{} `json:"req,omitempty"`
}

// CandleSnapshotRequest carries parameters for the candleSnapshot request.
type CandleSnapshotRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"` // "1d" for daily history
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// CandleResponse mirrors the payload returned from candleSnapshot requests.
// Prices and volume arrive as decimal strings and are passed through untouched.
type CandleResponse []struct {
	T      int64  `json:"t"` // Open timestamp (ms)
	TClose int64  `json:"T"` // Close timestamp (ms)
	S      string `json:"s"`
	I      string `json:"i"`
	O      string `json:"o"`
	C      string `json:"c"`
	H      string `json:"h"`
	L      string `json:"l"`
	V      string `json:"v"`
	N      int64  `json:"n"` // Number of trades
}

// MetaResponse lists the perpetual universe.
type MetaResponse struct {
	Universe []UniverseEntry `json:"universe"`
}

// UniverseEntry enumerates tradable assets on Hyperliquid.
type UniverseEntry struct {
	Name        string  `json:"name"`
	SzDecimals  int     `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
	IsDelisted  bool    `json:"isDelisted"`
}
