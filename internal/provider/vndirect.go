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

// vndirectStocksResponse is the finfo stocks listing.
type vndirectStocksResponse struct {
	Data []struct {
		Code         string `json:"code"`
		CompanyName  string `json:"companyName"`
		Floor        string `json:"floor"`
		IndustryName string `json:"industryName"`
		Status       string `json:"status"`
	} `json:"data"`
	TotalElements int `json:"totalElements"`
}

// vndirectPricesResponse is the finfo daily price series.
type vndirectPricesResponse struct {
	Data []struct {
		Code      string  `json:"code"`
		Date      string  `json:"date"`
		Floor     string  `json:"floor"`
		Close     float64 `json:"close"`
		Change    float64 `json:"change"`
		PctChange float64 `json:"pctChange"`
		Volume    int64   `json:"nmVolume"`
	} `json:"data"`
}

type vndirectBackend struct{}

func (vndirectBackend) defaultBaseURL() string {
	return "https://finfo-api.vndirect.com.vn"
}

func (vndirectBackend) capabilities() []model.Capability {
	return []model.Capability{model.CapExistence, model.CapQuote, model.CapProfile}
}

func (vndirectBackend) authorize(req *http.Request, key string) {
	q := req.URL.Query()
	q.Set("apiKey", key)
	req.URL.RawQuery = q.Encode()
}

func (vndirectBackend) endpoint(c model.Capability, symbol string) endpoint {
	q := url.Values{}
	q.Set("q", "code:"+symbol)
	if c == model.CapQuote {
		q.Set("sort", "date")
		q.Set("size", "1")
		return endpoint{path: "/v4/stock_prices", query: q}
	}
	return endpoint{path: "/v4/stocks", query: q}
}

func (vndirectBackend) decode(c model.Capability, symbol string, body []byte) (model.Payload, error) {
	p := model.Payload{Symbol: symbol, Capability: c}

	if c == model.CapQuote {
		var resp vndirectPricesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return model.Payload{}, fmt.Errorf("parse vndirect prices: %w", err)
		}
		for _, row := range resp.Data {
			if !strings.EqualFold(row.Code, symbol) {
				continue
			}
			p.Quote = &model.Quote{
				Exchange:      strings.ToUpper(row.Floor),
				Price:         decimal.NewFromFloat(row.Close),
				Change:        decimal.NewFromFloat(row.Change),
				ChangePercent: decimal.NewFromFloat(row.PctChange),
				Volume:        row.Volume,
			}
			return p, nil
		}
		return model.Payload{}, errAbsent
	}

	var resp vndirectStocksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Payload{}, fmt.Errorf("parse vndirect stocks: %w", err)
	}
	for _, row := range resp.Data {
		if !strings.EqualFold(row.Code, symbol) {
			continue
		}
		// A delisted row is the provider's way of saying the symbol is gone.
		if strings.EqualFold(row.Status, "delisted") {
			return model.Payload{}, errAbsent
		}
		if c == model.CapProfile {
			p.Profile = &model.Profile{
				Name:     row.CompanyName,
				Exchange: strings.ToUpper(row.Floor),
				Industry: row.IndustryName,
			}
		}
		return p, nil
	}
	return model.Payload{}, errAbsent
}
