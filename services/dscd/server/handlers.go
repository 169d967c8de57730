package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/services/dscd/storage"
)

const maxBodyBytes = 1 << 16

type collateralRequest struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	MintAmount string `json:"mint_amount,omitempty"`
	BurnAmount string `json:"burn_amount,omitempty"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type liquidationRequest struct {
	Asset       string `json:"asset"`
	Target      string `json:"target"`
	DebtToCover string `json:"debt_to_cover"`
}

type tokenRequest struct {
	To      string `json:"to,omitempty"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type operationResponse struct {
	Status   string            `json:"status"`
	Position *positionResponse `json:"position,omitempty"`
}

type liquidationResponse struct {
	DebtCovered          string `json:"debt_covered"`
	CollateralSeized     string `json:"collateral_seized"`
	Bonus                string `json:"bonus"`
	StartingHealthFactor string `json:"starting_health_factor"`
	EndingHealthFactor   string `json:"ending_health_factor"`
}

type positionResponse struct {
	Account       string               `json:"account"`
	Debt          string               `json:"debt"`
	CollateralUSD string               `json:"collateral_usd"`
	HealthFactor  string               `json:"health_factor"`
	Collateral    []collateralResponse `json:"collateral"`
}

type collateralResponse struct {
	Asset  string `json:"asset"`
	Symbol string `json:"symbol,omitempty"`
	Amount string `json:"amount"`
	USD    string `json:"usd"`
}

type assetResponse struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals uint8  `json:"decimals"`
	Price    string `json:"price,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := s.collateralArgs(req.Asset, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.DepositCollateral(account, asset, amount)
	})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := s.collateralArgs(req.Asset, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	mintAmount, err := parseAmount(req.MintAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.DepositCollateralAndMintDsc(account, asset, amount, mintAmount)
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := s.collateralArgs(req.Asset, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.RedeemCollateral(account, asset, amount)
	})
}

func (s *Server) handleRedeemForDsc(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	asset, amount, err := s.collateralArgs(req.Asset, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	burnAmount, err := parseAmount(req.BurnAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.RedeemCollateralForDsc(account, asset, amount, burnAmount)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.MintDsc(account, amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	account, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mutate(w, account, func() error {
		return s.engine.BurnDsc(account, amount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidationRequest
	liquidator, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	asset, err := s.assetAddress(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := parseAccount(req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		writeError(w, err)
		return
	}
	var result *dsc.LiquidationResult
	err = s.seq.Do(func() error {
		var liqErr error
		result, liqErr = s.engine.Liquidate(liquidator, asset, target, debtToCover)
		return liqErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("dscd: liquidation",
		"liquidator", liquidator.String(),
		"target", target.String(),
		"asset", s.symbolOf(asset),
		"debt_covered", result.DebtCovered.String(),
		"collateral_seized", result.CollateralSeized.String())
	writeJSON(w, http.StatusOK, liquidationResponse{
		DebtCovered:          result.DebtCovered.String(),
		CollateralSeized:     result.CollateralSeized.String(),
		Bonus:                result.Bonus.String(),
		StartingHealthFactor: result.StartingHealthFactor.String(),
		EndingHealthFactor:   result.EndingHealthFactor.String(),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	owner, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	tok, err := s.tokenByRef(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	spender := s.engine.Address()
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAccount(req.Spender); err != nil {
			writeError(w, err)
			return
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.seq.Do(func() error {
		if err := tok.Approve(owner, spender, amount); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     tok.Symbol(),
		"owner":     owner.String(),
		"spender":   spender.String(),
		"allowance": tok.Allowance(owner, spender).String(),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	from, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	tok, err := s.tokenByRef(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAccount(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.seq.Do(func() error {
		moved, err := tok.Transfer(from, to, amount)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if !moved {
			return fmt.Errorf("%w: %s", dsc.ErrTransferFailed, tok.Symbol())
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok.Symbol(), "balance": tok.BalanceOf(from).String()})
}

// handleTokenMint lets a token owner issue balances. The debt token is owned
// by the engine, so only collateral can be minted here.
func (s *Server) handleTokenMint(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	caller, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	tok, err := s.tokenByRef(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAccount(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.seq.Do(func() error {
		minted, err := tok.Mint(caller, to, amount)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if !minted {
			return fmt.Errorf("%w: %s is not the %s owner", errForbidden, caller, tok.Symbol())
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok.Symbol(), "balance": tok.BalanceOf(to).String()})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	caller, ok := s.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}
	if s.pauses == nil || s.operator.IsZero() || caller != s.operator {
		writeError(w, fmt.Errorf("%w: operator only", errForbidden))
		return
	}
	// Taking the write lock lets in-flight operations finish first.
	_ = s.seq.Do(func() error {
		s.pauses.SetPaused(dsc.ModuleName, req.Paused)
		return nil
	})
	s.logger.Warn("dscd: engine pause toggled", "paused", req.Paused, "operator", caller.String())
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.pauses.IsPaused(dsc.ModuleName)})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, err := s.tokenByRef(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var balance, allowance *big.Int
	_ = s.seq.Read(func() error {
		balance = tok.BalanceOf(account)
		allowance = tok.Allowance(account, s.engine.Address())
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"token":            tok.Symbol(),
		"account":          account.String(),
		"balance":          balance.String(),
		"engine_allowance": allowance.String(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	var pos *dsc.Position
	err = s.seq.Read(func() error {
		var posErr error
		pos, posErr = s.engine.Positions(account)
		return posErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderPosition(pos))
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, fmt.Errorf("%w: event history disabled", errNotFound))
		return
	}
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, fmt.Errorf("%w: limit %q", errBadRequest, raw))
			return
		}
	}
	records, err := s.events.ListEvents(r.Context(), account.String(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, renderEvent(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	assets := s.engine.CollateralTokens()
	out := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		entry := assetResponse{Asset: asset.String(), Symbol: s.symbolOf(asset)}
		if tok, err := s.tokenByRef(asset.String()); err == nil {
			entry.Decimals = tok.Decimals()
		}
		// One unit of the asset priced in USD with 18 decimals.
		usd, err := s.engine.USDValue(asset, s.engine.Precision())
		if err != nil {
			_, entry.Error = classify(err)
		} else {
			entry.Price = usd.String()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": out})
}

func (s *Server) handleUSDValue(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assetAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, err)
		return
	}
	usd, err := s.engine.USDValue(asset, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "amount": amount.String(), "usd": usd.String()})
}

func (s *Server) handleTokenAmount(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assetAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	usd, err := parseAmount(r.URL.Query().Get("usd"))
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.engine.TokenAmountForUSD(asset, usd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "usd": usd.String(), "amount": amount.String()})
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"engine":                    s.engine.Address().String(),
		"debt_token":                s.debt.Address().String(),
		"liquidation_threshold":     s.engine.LiquidationThreshold().String(),
		"liquidation_bonus":         s.engine.LiquidationBonus().String(),
		"liquidation_precision":     s.engine.LiquidationPrecision().String(),
		"precision":                 s.engine.Precision().String(),
		"min_health_factor":         s.engine.MinHealthFactor().String(),
		"additional_feed_precision": s.engine.AdditionalFeedPrecision().String(),
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var collateralUSD, debt *big.Int
	err := s.seq.Read(func() error {
		var totalsErr error
		collateralUSD, debt, totalsErr = s.engine.SystemTotals()
		return totalsErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.RecordSystemTotals(collateralUSD, debt)
	writeJSON(w, http.StatusOK, map[string]string{
		"collateral_usd":   collateralUSD.String(),
		"debt":             debt.String(),
		"dsc_total_supply": s.debt.TotalSupply().String(),
		"health_factor":    s.engine.CalculateHealthFactor(debt, collateralUSD).String(),
	})
}

func (s *Server) handleCalculateHealthFactor(w http.ResponseWriter, r *http.Request) {
	debt, err := parseQueryAmount(r.URL.Query().Get("debt"))
	if err != nil {
		writeError(w, err)
		return
	}
	collateralUSD, err := parseQueryAmount(r.URL.Query().Get("collateral_usd"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"health_factor": s.engine.CalculateHealthFactor(debt, collateralUSD).String(),
	})
}

// decodeAuthenticated reads the JSON body into dst and returns the caller.
func (s *Server) decodeAuthenticated(w http.ResponseWriter, r *http.Request, dst interface{}) (crypto.Address, bool) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return crypto.Address{}, false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return crypto.Address{}, false
	}
	return account, true
}

// mutate runs fn under the sequencer and responds with the account's position.
// The position is omitted when it cannot be priced after the write committed.
func (s *Server) mutate(w http.ResponseWriter, account crypto.Address, fn func() error) {
	if err := s.seq.Do(fn); err != nil {
		writeError(w, err)
		return
	}
	out := operationResponse{Status: "ok"}
	_ = s.seq.Read(func() error {
		pos, err := s.engine.Positions(account)
		if err != nil {
			s.logger.Warn("dscd: position after write", "account", account.String(), "error", err)
			return err
		}
		rendered := s.renderPosition(pos)
		out.Position = &rendered
		return nil
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) collateralArgs(assetRef, rawAmount string) (crypto.Address, *big.Int, error) {
	asset, err := s.assetAddress(assetRef)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return asset, amount, nil
}

func (s *Server) renderPosition(pos *dsc.Position) positionResponse {
	out := positionResponse{
		Account:       pos.Account.String(),
		Debt:          pos.Debt.String(),
		CollateralUSD: pos.CollateralUSD.String(),
		HealthFactor:  pos.HealthFactor.String(),
		Collateral:    make([]collateralResponse, 0, len(pos.Collateral)),
	}
	for _, bal := range pos.Collateral {
		out.Collateral = append(out.Collateral, collateralResponse{
			Asset:  bal.Asset.String(),
			Symbol: s.symbolOf(bal.Asset),
			Amount: bal.Amount.String(),
			USD:    bal.USD.String(),
		})
	}
	return out
}

func renderEvent(rec storage.EventRecord) map[string]interface{} {
	attrs := map[string]string{}
	_ = json.Unmarshal([]byte(rec.Attributes), &attrs)
	return map[string]interface{}{
		"id":         rec.ID.String(),
		"type":       rec.Type,
		"attributes": attrs,
		"created_at": rec.CreatedAt,
	}
}

// parseAmount reads a base-10 integer. Sign and range checks are left to the
// engine so it reports them with its own codes.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount required", errBadRequest)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, raw)
	}
	return value, nil
}

func parseQueryAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(big.Int), nil
	}
	value, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", errBadRequest)
	}
	return value, nil
}

func parseAccount(raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAccount(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: account: %v", errBadRequest, err)
	}
	return addr, nil
}
