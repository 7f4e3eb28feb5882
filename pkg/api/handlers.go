// 文件: pkg/api/handlers.go

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vperp.com/pkg/chain"
	"vperp.com/pkg/engine"
	"vperp.com/pkg/fixed"
	"vperp.com/pkg/indexer"
	"vperp.com/pkg/insurance"
	"vperp.com/pkg/pricefeed"
	"vperp.com/pkg/vamm"
)

var ErrBadDecimals = errors.New("unsupported decimals")

// =============================================================================
// 视图
// =============================================================================

type VammView struct {
	Address           string           `json:"address"`
	BaseAsset         string           `json:"base_asset"`
	QuoteAsset        string           `json:"quote_asset"`
	Open              bool             `json:"open"`
	SpotPrice         decimal.Decimal  `json:"spot_price"`
	OraclePrice       *decimal.Decimal `json:"oracle_price,omitempty"`
	QuoteAssetReserve decimal.Decimal  `json:"quote_asset_reserve"`
	BaseAssetReserve  decimal.Decimal  `json:"base_asset_reserve"`
	TotalPositionSize decimal.Decimal  `json:"total_position_size"`
	FundingRate       decimal.Decimal  `json:"funding_rate"`
	NextFundingTime   uint64           `json:"next_funding_time"`
	FundingPeriod     uint64           `json:"funding_period"`
	TollRatio         decimal.Decimal  `json:"toll_ratio"`
	SpreadRatio       decimal.Decimal  `json:"spread_ratio"`
}

type PositionView struct {
	Vamm             string           `json:"vamm"`
	Trader           string           `json:"trader"`
	Side             engine.Side      `json:"side"`
	Size             decimal.Decimal  `json:"size"`
	Margin           decimal.Decimal  `json:"margin"`
	Notional         decimal.Decimal  `json:"notional"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	PositionNotional decimal.Decimal  `json:"position_notional"`
	UnrealizedPnl    decimal.Decimal  `json:"unrealized_pnl"`
	MarginRatio      decimal.Decimal  `json:"margin_ratio"`
	TakeProfit       *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss         *decimal.Decimal `json:"stop_loss,omitempty"`
	BlockHeight      uint64           `json:"block_height"`
}

type PositionsPage struct {
	Positions []PositionView `json:"positions"`
	NextKey   string         `json:"next_key,omitempty"`
}

// =============================================================================
// 基础
// =============================================================================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	b := s.chain.Block()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"height": b.Height,
		"time":   b.Time,
	})
}

func (s *Server) listVamms(w http.ResponseWriter, r *http.Request) {
	cfg, err := queryAs[engine.Config](s.chain, s.engine, engine.ConfigQuery{})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	addrs, err := queryAs[[]string](s.chain, cfg.InsuranceFund, insurance.GetAllVamm{})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]VammView, 0, len(addrs))
	for _, a := range addrs {
		v, err := s.vammView(a)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getVamm(w http.ResponseWriter, r *http.Request) {
	v, err := s.vammView(chi.URLParam(r, "vamm"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) vammView(addr string) (VammView, error) {
	cfg, err := queryAs[vamm.Config](s.chain, addr, vamm.ConfigQuery{})
	if err != nil {
		return VammView{}, err
	}
	st, err := queryAs[vamm.State](s.chain, addr, vamm.StateQuery{})
	if err != nil {
		return VammView{}, err
	}
	spot, err := queryAs[fixed.Uint](s.chain, addr, vamm.GetSpotPrice{})
	if err != nil {
		return VammView{}, err
	}
	dec, ok := fixed.DecimalsOf(cfg.Decimals)
	if !ok {
		return VammView{}, fmt.Errorf("%w: vamm %s", ErrBadDecimals, addr)
	}

	v := VammView{
		Address:           addr,
		BaseAsset:         cfg.BaseAsset,
		QuoteAsset:        cfg.QuoteAsset,
		Open:              st.Open,
		SpotPrice:         spot.Decimal(dec),
		QuoteAssetReserve: st.QuoteAssetReserve.Decimal(dec),
		BaseAssetReserve:  st.BaseAssetReserve.Decimal(dec),
		TotalPositionSize: st.TotalPositionSize.Decimal(dec),
		FundingRate:       st.FundingRate.Decimal(dec),
		NextFundingTime:   st.NextFundingTime,
		FundingPeriod:     cfg.FundingPeriod,
		TollRatio:         cfg.TollRatio.Decimal(dec),
		SpreadRatio:       cfg.SpreadRatio.Decimal(dec),
	}
	// 预言机还没喂价时不算错误
	if price, err := queryAs[pricefeed.PriceResponse](s.chain, cfg.Pricefeed, pricefeed.GetPrice{Key: cfg.BaseAsset}); err == nil {
		p := price.Price.Decimal(dec)
		v.OraclePrice = &p
	}
	return v, nil
}

// =============================================================================
// 仓位
// =============================================================================

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	vammAddr, trader := chi.URLParam(r, "vamm"), chi.URLParam(r, "trader")
	cfg, dec, err := s.engineConfig()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pos, err := queryAs[engine.Position](s.chain, s.engine, engine.PositionQuery{Vamm: vammAddr, Trader: trader})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.positionView(cfg, dec, pos)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) vammPositions(w http.ResponseWriter, r *http.Request) {
	q := engine.PositionsByVamm{
		Vamm:       chi.URLParam(r, "vamm"),
		StartAfter: r.URL.Query().Get("start_after"),
	}
	switch side := r.URL.Query().Get("side"); side {
	case "":
	case "buy", "sell":
		sd := engine.Buy
		if side == "sell" {
			sd = engine.Sell
		}
		q.Side = &sd
	default:
		writeError(w, "invalid side", http.StatusBadRequest)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q.Limit = limit

	cfg, dec, err := s.engineConfig()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := queryAs[engine.PositionsResponse](s.chain, s.engine, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := PositionsPage{Positions: make([]PositionView, 0, len(page.Positions)), NextKey: page.NextKey}
	for _, p := range page.Positions {
		v, err := s.positionView(cfg, dec, p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out.Positions = append(out.Positions, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) traderPositions(w http.ResponseWriter, r *http.Request) {
	cfg, dec, err := s.engineConfig()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := queryAs[[]engine.Position](s.chain, s.engine, engine.AllPositions{Trader: chi.URLParam(r, "trader")})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]PositionView, 0, len(list))
	for _, p := range list {
		v, err := s.positionView(cfg, dec, p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) engineConfig() (engine.Config, int32, error) {
	cfg, err := queryAs[engine.Config](s.chain, s.engine, engine.ConfigQuery{})
	if err != nil {
		return engine.Config{}, 0, err
	}
	dec, ok := fixed.DecimalsOf(cfg.Decimals)
	if !ok {
		return engine.Config{}, 0, fmt.Errorf("%w: engine", ErrBadDecimals)
	}
	return cfg, dec, nil
}

// positionView 补上按现价的盈亏和保证金率
func (s *Server) positionView(cfg engine.Config, dec int32, p engine.Position) (PositionView, error) {
	pnl, err := queryAs[engine.PnlResponse](s.chain, s.engine, engine.UnrealizedPnl{Vamm: p.Vamm, Trader: p.Trader, Option: engine.SpotPrice})
	if err != nil {
		return PositionView{}, err
	}
	ratio, err := queryAs[fixed.Integer](s.chain, s.engine, engine.MarginRatio{Vamm: p.Vamm, Trader: p.Trader})
	if err != nil {
		return PositionView{}, err
	}
	entry, err := p.EntryPrice(cfg.Decimals)
	if err != nil {
		return PositionView{}, err
	}

	v := PositionView{
		Vamm:             p.Vamm,
		Trader:           p.Trader,
		Side:             p.Side(),
		Size:             p.Size.Decimal(dec),
		Margin:           p.Margin.Decimal(dec),
		Notional:         p.Notional.Decimal(dec),
		EntryPrice:       entry.Decimal(dec),
		PositionNotional: pnl.PositionNotional.Decimal(dec),
		UnrealizedPnl:    pnl.UnrealizedPnl.Decimal(dec),
		MarginRatio:      ratio.Decimal(dec),
		BlockHeight:      p.BlockHeight,
	}
	if p.TakeProfit != nil {
		tp := p.TakeProfit.Decimal(dec)
		v.TakeProfit = &tp
	}
	if p.StopLoss != nil {
		sl := p.StopLoss.Decimal(dec)
		v.StopLoss = &sl
	}
	return v, nil
}

// =============================================================================
// 历史记录 (索引器)
// =============================================================================

func (s *Server) traderTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list, err := s.records.ListTrades(r.Context(), chi.URLParam(r, "trader"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) vammLiquidations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list, err := s.records.ListLiquidations(r.Context(), chi.URLParam(r, "vamm"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) vammFunding(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list, err := s.records.ListFunding(r.Context(), chi.URLParam(r, "vamm"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) insuranceLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	list, err := s.records.ListInsuranceLogs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// 辅助
// =============================================================================

func queryAs[T any](q Querier, addr string, req any) (T, error) {
	var zero T
	res, err := q.Query(addr, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", chain.ErrUnexpectedResponse, zero, res)
	}
	return v, nil
}

// parseLimit 写出 400 时返回 false
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// statusOf 业务错误 → HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoPosition),
		errors.Is(err, engine.ErrVammNotRegistered),
		errors.Is(err, chain.ErrContractNotFound),
		errors.Is(err, indexer.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrUnknownQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
