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

// tcbsOverview is the ticker overview document.
type tcbsOverview struct {
	Ticker    string `json:"ticker"`
	Exchange  string `json:"exchange"`
	ShortName string `json:"shortName"`
	Industry  string `json:"industry"`
}

// tcbsPriceResponse is the second-level price snapshot list.
type tcbsPriceResponse struct {
	Data []struct {
		Ticker           string  `json:"ticker"`
		Exchange         string  `json:"exchange"`
		Price            float64 `json:"price"`
		PriceChange      float64 `json:"priceChange"`
		PriceChangeRatio float64 `json:"priceChangeRatio"`
		Vol              float64 `json:"vol"`
	} `json:"data"`
}

type tcbsBackend struct{}

func (tcbsBackend) defaultBaseURL() string {
	return "https://apipubaws.tcbs.com.vn"
}

func (tcbsBackend) capabilities() []model.Capability {
	return []model.Capability{model.CapExistence, model.CapQuote, model.CapProfile}
}

func (tcbsBackend) authorize(req *http.Request, key string) {
	req.Header.Set("X-API-Key", key)
}

func (tcbsBackend) endpoint(c model.Capability, symbol string) endpoint {
	if c == model.CapQuote {
		q := url.Values{}
		q.Set("tickers", symbol)
		return endpoint{path: "/stock-insight/v1/stock/second-tc-price", query: q}
	}
	return endpoint{path: "/tcanalysis/v1/ticker/" + url.PathEscape(symbol) + "/overview"}
}

func (tcbsBackend) decode(c model.Capability, symbol string, body []byte) (model.Payload, error) {
	p := model.Payload{Symbol: symbol, Capability: c}

	if c == model.CapQuote {
		var resp tcbsPriceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return model.Payload{}, fmt.Errorf("parse tcbs prices: %w", err)
		}
		for _, row := range resp.Data {
			if !strings.EqualFold(row.Ticker, symbol) {
				continue
			}
			p.Quote = &model.Quote{
				Exchange:      strings.ToUpper(row.Exchange),
				Price:         decimal.NewFromFloat(row.Price),
				Change:        decimal.NewFromFloat(row.PriceChange),
				ChangePercent: decimal.NewFromFloat(row.PriceChangeRatio).Mul(decimal.NewFromInt(100)),
				Volume:        int64(row.Vol),
			}
			return p, nil
		}
		return model.Payload{}, errAbsent
	}

	var ov tcbsOverview
	if err := json.Unmarshal(body, &ov); err != nil {
		return model.Payload{}, fmt.Errorf("parse tcbs overview: %w", err)
	}
	// The overview endpoint answers 200 with an empty document for unknown tickers.
	if ov.Ticker == "" {
		return model.Payload{}, errAbsent
	}
	if c == model.CapProfile {
		p.Profile = &model.Profile{
			Name:     ov.ShortName,
			Exchange: strings.ToUpper(ov.Exchange),
			Industry: ov.Industry,
		}
	}
	return p, nil
}
