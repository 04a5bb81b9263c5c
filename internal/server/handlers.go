package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"LiqGuard/internal/account"
	"LiqGuard/internal/derive"
	"LiqGuard/internal/engine"
	"LiqGuard/internal/risk"
	"LiqGuard/internal/store"
)

// positionView is a position enriched with live health. The health block
// is omitted when the oracle has no usable price for the symbol.
type positionView struct {
	Address           string `json:"address"`
	Owner             string `json:"owner"`
	Symbol            string `json:"symbol"`
	Size              int64  `json:"size"`
	Collateral        int64  `json:"collateral"`
	EntryPrice        int64  `json:"entry_price"`
	Leverage          uint16 `json:"leverage"`
	MaintenanceMargin int64  `json:"maintenance_margin"`
	Open              bool   `json:"open"`

	OraclePrice      *int64 `json:"oracle_price,omitempty"`
	HealthFactor     *int64 `json:"health_factor,omitempty"`
	Equity           *int64 `json:"equity,omitempty"`
	UnrealizedPnL    *int64 `json:"unrealized_pnl,omitempty"`
	LiquidationPrice *int64 `json:"liquidation_price,omitempty"`
	Liquidatable     *bool  `json:"liquidatable,omitempty"`
}

type fundView struct {
	Address             string `json:"address"`
	Authority           string `json:"authority"`
	Balance             int64  `json:"balance"`
	TotalContributions  int64  `json:"total_contributions"`
	TotalBadDebtCovered int64  `json:"total_bad_debt_covered"`
	UtilizationRatio    int64  `json:"utilization_ratio"`
}

// handlePositions lists positions with live health.
// GET /v1/positions?include_closed=true
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	includeClosed := r.URL.Query().Get("include_closed") == "true"

	// Prices fetched once per symbol for the whole listing.
	prices := make(map[string]*int64)
	var views []positionView

	err := s.store.Scan(r.Context(), func(rec store.Record) error {
		decoded, err := account.DecodeAny(rec.Data)
		if err != nil || decoded.Kind != account.KindPosition {
			return nil
		}
		pos := decoded.Position
		if !pos.IsOpen() && !includeClosed {
			return nil
		}

		price, cached := prices[pos.Symbol]
		if !cached {
			if p, err := s.oracle.Price(r.Context(), pos.Symbol); err == nil {
				price = &p
			}
			prices[pos.Symbol] = price
		}
		views = append(views, s.buildView(rec.Address, pos, price))
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	if views == nil {
		views = []positionView{}
	}
	s.writeJSON(w, map[string]interface{}{"positions": views})
}

// handlePosition returns one position with live health.
// GET /v1/positions/{address}
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, err := derive.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed address")
		return
	}

	pos, err := s.engine.Position(r.Context(), addr)
	if errors.Is(err, engine.ErrPositionNotFound) {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read failed")
		return
	}

	var price *int64
	if p, err := s.oracle.Price(r.Context(), pos.Symbol); err == nil {
		price = &p
	}
	s.writeJSON(w, s.buildView(addr, pos, price))
}

func (s *Server) buildView(addr derive.Address, pos *account.Position, price *int64) positionView {
	v := positionView{
		Address:           addr.String(),
		Owner:             pos.Owner.String(),
		Symbol:            pos.Symbol,
		Size:              pos.Size,
		Collateral:        pos.Collateral,
		EntryPrice:        pos.EntryPrice,
		Leverage:          pos.Leverage,
		MaintenanceMargin: pos.MaintenanceMargin,
		Open:              pos.IsOpen(),
	}
	if !pos.IsOpen() {
		return v
	}

	if lp, ok := risk.LiquidationPrice(pos, s.engine.Params()); ok {
		v.LiquidationPrice = &lp
	}
	if price == nil {
		return v
	}

	v.OraclePrice = price
	health, err := risk.Evaluate(pos, *price, s.engine.Params())
	if err != nil {
		return v
	}
	liquidatable := health.Liquidatable(s.engine.Params())
	v.HealthFactor = &health.Factor
	v.Equity = &health.Equity
	v.UnrealizedPnL = &health.UnrealizedPnL
	v.Liquidatable = &liquidatable
	return v
}

// handleFund returns the insurance fund singleton.
// GET /v1/fund
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	fund, err := s.engine.Fund(r.Context())
	if errors.Is(err, engine.ErrFundNotInitialized) {
		s.writeError(w, http.StatusNotFound, "insurance fund not initialized")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read failed")
		return
	}

	s.writeJSON(w, fundView{
		Address:             s.engine.FundAddress().String(),
		Authority:           fund.Authority.String(),
		Balance:             fund.Balance,
		TotalContributions:  fund.TotalContributions,
		TotalBadDebtCovered: fund.TotalBadDebtCovered,
		UtilizationRatio:    fund.UtilizationRatio,
	})
}

// handleLiquidations returns liquidation history.
// GET /v1/liquidations?owner=<addr>&limit=N
func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		s.writeError(w, http.StatusNotImplemented, "history not configured")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))

	if owner := r.URL.Query().Get("owner"); owner != "" {
		rows, err := s.reader.LiquidationsByOwner(r.Context(), owner, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		s.writeJSON(w, map[string]interface{}{"liquidations": rows})
		return
	}

	rows, err := s.reader.RecentLiquidations(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, map[string]interface{}{"liquidations": rows})
}

// handleFundTransactions returns the fund transaction log.
// GET /v1/fund/transactions?limit=N
func (s *Server) handleFundTransactions(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		s.writeError(w, http.StatusNotImplemented, "history not configured")
		return
	}

	rows, err := s.reader.FundTransactions(r.Context(), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, map[string]interface{}{"transactions": rows})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 100
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 100
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
