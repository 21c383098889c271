package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/instrument-refresh/internal/model"
)

// ssiResponse is the iBoard stock envelope.
type ssiResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    []ssiPriceData `json:"data"`
}

// ssiPriceData is one iBoard row. Field names follow the upstream short keys.
type ssiPriceData struct {
	SS   string  `json:"ss"`   // Stock symbol
	SN   string  `json:"sn"`   // Short name
	ST   string  `json:"st"`   // Exchange (hose, hnx, upcom)
	RP   float64 `json:"rp"`   // Reference price
	MP   float64 `json:"mp"`   // Match price (current price)
	CG   float64 `json:"cg"`   // Change
	PCT  float64 `json:"pct"`  // Percent change
	TVOL float64 `json:"tvol"` // Total volume
}

const ssiRateLimitCode = "TOO_MANY_REQUESTS"

type ssiBackend struct{}

func (ssiBackend) defaultBaseURL() string {
	return "https://iboard-query.ssi.com.vn"
}

func (ssiBackend) capabilities() []model.Capability {
	return []model.Capability{model.CapExistence, model.CapQuote}
}

func (ssiBackend) authorize(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+key)
}

func (ssiBackend) endpoint(_ model.Capability, symbol string) endpoint {
	return endpoint{path: "/v2/stock/" + url.PathEscape(symbol)}
}

func (ssiBackend) decode(c model.Capability, symbol string, body []byte) (model.Payload, error) {
	var resp ssiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Payload{}, fmt.Errorf("parse ssi response: %w", err)
	}
	if strings.EqualFold(resp.Code, ssiRateLimitCode) {
		return model.Payload{}, errThrottled
	}

	row, ok := findSSIRow(resp.Data, symbol)
	if !ok {
		return model.Payload{}, errAbsent
	}

	p := model.Payload{Symbol: symbol, Capability: c}
	if c == model.CapQuote {
		p.Quote = &model.Quote{
			Exchange:      strings.ToUpper(row.ST),
			Price:         decimal.NewFromFloat(row.MP),
			Change:        decimal.NewFromFloat(row.CG),
			ChangePercent: decimal.NewFromFloat(row.PCT),
			Volume:        int64(row.TVOL),
		}
	}
	return p, nil
}

func findSSIRow(rows []ssiPriceData, symbol string) (ssiPriceData, bool) {
	for _, r := range rows {
		if strings.EqualFold(r.SS, symbol) {
			return r, true
		}
	}
	return ssiPriceData{}, false
}
