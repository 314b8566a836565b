package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/ledger"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

type openTradeRequest struct {
	Asset       string              `json:"asset"`
	Instrument  string              `json:"instrument"`
	Type        string              `json:"type"`
	Margin      decimal.Decimal     `json:"margin"`
	Leverage    int64               `json:"leverage"`
	StopLoss    decimal.NullDecimal `json:"stopLoss"`
	TakeProfit  decimal.NullDecimal `json:"takeProfit"`
	SlippageBps *int64              `json:"slippageBps"`
}

type openTradeResponse struct {
	OrderID                  string `json:"orderId"`
	ExecutionPriceValue      string `json:"executionPriceValue"`
	ExecutionPriceDecimals   int32  `json:"executionPriceDecimals"`
	LiquidationPriceValue    string `json:"liquidationPriceValue"`
	LiquidationPriceDecimals int32  `json:"liquidationPriceDecimals"`
	SlippageAppliedValue     string `json:"slippageAppliedValue"`
	SlippageAppliedDecimals  int32  `json:"slippageAppliedDecimals"`
}

type closeTradeResponse struct {
	Message            string `json:"message"`
	OrderID            string `json:"orderId"`
	Status             string `json:"status"`
	ClosePriceValue    string `json:"closePriceValue"`
	ClosePriceDecimals int32  `json:"closePriceDecimals"`
	PnLValue           string `json:"pnlValue"`
	PnLDecimals        int32  `json:"pnlDecimals"`
}

type tradeView struct {
	OrderID                  string `json:"orderId"`
	Asset                    string `json:"asset"`
	Type                     string `json:"type"`
	Status                   string `json:"status"`
	MarginValue              string `json:"marginValue"`
	MarginDecimals           int32  `json:"marginDecimals"`
	Leverage                 int64  `json:"leverage"`
	OpenPriceValue           string `json:"openPriceValue"`
	OpenPriceDecimals        int32  `json:"openPriceDecimals"`
	LiquidationPriceValue    string `json:"liquidationPriceValue"`
	LiquidationPriceDecimals int32  `json:"liquidationPriceDecimals"`
	CurrentPnLValue          string `json:"currentPnLValue,omitempty"`
	CurrentPnLDecimals       int32  `json:"currentPnLDecimals,omitempty"`
	ClosePriceValue          string `json:"closePriceValue,omitempty"`
	ClosePriceDecimals       int32  `json:"closePriceDecimals,omitempty"`
	PnLValue                 string `json:"pnlValue,omitempty"`
	PnLDecimals              int32  `json:"pnlDecimals,omitempty"`
	OpenedAt                 int64  `json:"openedAt"`
	ClosedAt                 int64  `json:"closedAt,omitempty"`
}

type balanceResponse struct {
	BalanceValue          string `json:"balanceValue"`
	BalanceDecimals       int32  `json:"balanceDecimals"`
	LockedMarginValue     string `json:"lockedMarginValue"`
	LockedMarginDecimals  int32  `json:"lockedMarginDecimals"`
	UnrealizedPnLValue    string `json:"unrealizedPnLValue"`
	UnrealizedPnLDecimals int32  `json:"unrealizedPnLDecimals"`
	TotalEquityValue      string `json:"totalEquityValue"`
	TotalEquityDecimals   int32  `json:"totalEquityDecimals"`
}

type assetView struct {
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	BuyPriceValue     string `json:"buyPriceValue"`
	BuyPriceDecimals  int32  `json:"buyPriceDecimals"`
	SellPriceValue    string `json:"sellPriceValue"`
	SellPriceDecimals int32  `json:"sellPriceDecimals"`
	SpreadValue       string `json:"spreadValue"`
	SpreadDecimals    int32  `json:"spreadDecimals"`
	Decimals          int32  `json:"decimals"`
}

type configResponse struct {
	AllowedLeverage             []int64      `json:"allowedLeverage"`
	AllowedSlippageBps          []schema.BPS `json:"allowedSlippageBps"`
	DefaultSlippageBps          schema.BPS   `json:"defaultSlippageBps"`
	LiquidationThresholdPercent int64        `json:"liquidationThresholdPercent"`
	USDDecimals                 int32        `json:"usdDecimals"`
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

const usdDecimals = int32(schema.USDScale)

func (s *Server) parseOpen(c *gin.Context) (ledger.OpenRequest, error) {
	var body openTradeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return ledger.OpenRequest{}, fmt.Errorf("%w: %v", exception.ErrInvalidArgument, err)
	}

	symbol := body.Asset
	if symbol == "" {
		symbol = body.Instrument
	}
	if symbol == "" || body.Type == "" || body.Leverage == 0 {
		return ledger.OpenRequest{}, fmt.Errorf("%w: asset, type, margin and leverage are required", exception.ErrInvalidArgument)
	}

	side, ok := schema.ParseSide(strings.ToLower(body.Type))
	if !ok {
		return ledger.OpenRequest{}, exception.ErrInvalidSide
	}

	inst, ok := s.registry.Instrument(symbol)
	if !ok {
		return ledger.OpenRequest{}, exception.ErrUnknownInstrument
	}

	margin, err := schema.ToScaled(body.Margin, schema.USDScale)
	if err != nil {
		return ledger.OpenRequest{}, fmt.Errorf("%w: %v", exception.ErrInvalidMargin, err)
	}

	slippage := s.risk.DefaultSlippageBps
	if body.SlippageBps != nil {
		slippage = schema.BPS(*body.SlippageBps)
	}

	req := ledger.OpenRequest{
		Owner:       owner(c),
		Instrument:  inst.Symbol,
		Side:        side,
		Margin:      schema.USD(margin),
		Leverage:    body.Leverage,
		SlippageBps: slippage,
	}
	if body.StopLoss.Valid {
		v, err := schema.ToScaled(body.StopLoss.Decimal, inst.PriceScale)
		if err != nil {
			return ledger.OpenRequest{}, fmt.Errorf("%w: stop loss: %v", exception.ErrInvalidPrice, err)
		}
		req.StopLoss = schema.Price(v)
	}
	if body.TakeProfit.Valid {
		v, err := schema.ToScaled(body.TakeProfit.Decimal, inst.PriceScale)
		if err != nil {
			return ledger.OpenRequest{}, fmt.Errorf("%w: take profit: %v", exception.ErrInvalidPrice, err)
		}
		req.TakeProfit = schema.Price(v)
	}
	return req, nil
}

func (s *Server) openTrade(c *gin.Context) {
	req, err := s.parseOpen(c)
	if err != nil {
		s.fail(c, "parse open request", err)
		return
	}

	p, err := s.trader.Open(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "open trade", err)
		return
	}

	decimals := int32(p.PriceScale)
	c.JSON(http.StatusOK, openTradeResponse{
		OrderID:                  p.ID.String(),
		ExecutionPriceValue:      itoa(int64(p.OpenPrice)),
		ExecutionPriceDecimals:   decimals,
		LiquidationPriceValue:    itoa(int64(p.LiquidationPrice)),
		LiquidationPriceDecimals: decimals,
		SlippageAppliedValue:     itoa(int64(p.SlippageApplied)),
		SlippageAppliedDecimals:  decimals,
	})
}

func (s *Server) closeTrade(c *gin.Context) {
	id, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		s.fail(c, "parse order id", exception.ErrPositionNotFound)
		return
	}

	p, err := s.trader.Close(c.Request.Context(), owner(c), id)
	if err != nil {
		s.fail(c, "close trade", err)
		return
	}

	c.JSON(http.StatusOK, closeTradeResponse{
		Message:            "trade closed",
		OrderID:            p.ID.String(),
		Status:             p.Status.String(),
		ClosePriceValue:    itoa(int64(p.ClosePrice)),
		ClosePriceDecimals: int32(p.PriceScale),
		PnLValue:           itoa(int64(p.RealizedPnL)),
		PnLDecimals:        usdDecimals,
	})
}

func viewOf(p ledger.Position) tradeView {
	decimals := int32(p.PriceScale)
	v := tradeView{
		OrderID:                  p.ID.String(),
		Asset:                    p.Instrument,
		Type:                     p.Side.String(),
		Status:                   p.Status.String(),
		MarginValue:              itoa(int64(p.Margin)),
		MarginDecimals:           usdDecimals,
		Leverage:                 p.Leverage,
		OpenPriceValue:           itoa(int64(p.OpenPrice)),
		OpenPriceDecimals:        decimals,
		LiquidationPriceValue:    itoa(int64(p.LiquidationPrice)),
		LiquidationPriceDecimals: decimals,
		OpenedAt:                 p.OpenedAt.UnixMilli(),
	}
	if !p.IsOpen() {
		v.ClosePriceValue = itoa(int64(p.ClosePrice))
		v.ClosePriceDecimals = decimals
		v.PnLValue = itoa(int64(p.RealizedPnL))
		v.PnLDecimals = usdDecimals
		v.ClosedAt = p.ClosedAt.UnixMilli()
	}
	return v
}

func (s *Server) getOpenTrades(c *gin.Context) {
	views, err := s.trader.OpenPositions(c.Request.Context(), owner(c))
	if err != nil {
		s.fail(c, "get open trades", err)
		return
	}

	trades := make([]tradeView, 0, len(views))
	for _, pv := range views {
		v := viewOf(pv.Position)
		v.CurrentPnLValue = itoa(int64(pv.UnrealizedPnL))
		v.CurrentPnLDecimals = usdDecimals
		trades = append(trades, v)
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getClosedTrades(c *gin.Context) {
	closed, err := s.trader.ClosedPositions(c.Request.Context(), owner(c))
	if err != nil {
		s.fail(c, "get closed trades", err)
		return
	}

	trades := make([]tradeView, 0, len(closed))
	for _, p := range closed {
		trades = append(trades, viewOf(p))
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getBalance(c *gin.Context) {
	acct, err := s.trader.Account(c.Request.Context(), owner(c))
	if err != nil {
		s.fail(c, "get balance", err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		BalanceValue:          itoa(int64(acct.Balance)),
		BalanceDecimals:       usdDecimals,
		LockedMarginValue:     itoa(int64(acct.LockedMargin)),
		LockedMarginDecimals:  usdDecimals,
		UnrealizedPnLValue:    itoa(int64(acct.UnrealizedPnL)),
		UnrealizedPnLDecimals: usdDecimals,
		TotalEquityValue:      itoa(int64(acct.Equity)),
		TotalEquityDecimals:   usdDecimals,
	})
}

func (s *Server) getAssets(c *gin.Context) {
	quotes, err := s.trader.Quotes(c.Request.Context())
	if err != nil {
		s.fail(c, "get assets", err)
		return
	}
	bySymbol := make(map[string]schema.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Instrument] = q
	}

	instruments := s.registry.Instruments()
	assets := make([]assetView, 0, len(instruments))
	for _, inst := range instruments {
		decimals := int32(inst.PriceScale)
		q := bySymbol[inst.Symbol]
		assets = append(assets, assetView{
			Name:              inst.Name,
			Symbol:            inst.Symbol,
			BuyPriceValue:     itoa(int64(q.Ask)),
			BuyPriceDecimals:  decimals,
			SellPriceValue:    itoa(int64(q.Bid)),
			SellPriceDecimals: decimals,
			SpreadValue:       itoa(int64(q.Spread())),
			SpreadDecimals:    decimals,
			Decimals:          decimals,
		})
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, configResponse{
		AllowedLeverage:             s.risk.AllowedLeverage,
		AllowedSlippageBps:          s.risk.AllowedSlippageBps,
		DefaultSlippageBps:          s.risk.DefaultSlippageBps,
		LiquidationThresholdPercent: s.risk.LiquidationThresholdPercent,
		USDDecimals:                 usdDecimals,
	})
}
