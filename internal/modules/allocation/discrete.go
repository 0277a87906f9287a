// Package allocation converts continuous portfolio weights into whole share
// counts under a cash budget.
package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Result is the outcome of a discrete allocation.
type Result struct {
	Shares        map[string]int64   `json:"shares" msgpack:"shares"`
	LeftoverCash  float64            `json:"leftover_cash" msgpack:"leftover_cash"`
	AllocatedCash float64            `json:"allocated_cash" msgpack:"allocated_cash"`
	Prices        map[string]float64 `json:"prices" msgpack:"prices"`
}

// Allocate greedily converts target weights and latest prices into integer
// share counts. The first pass buys floor(weight * budget / price) of each
// asset; the remaining cash is then spent one share at a time on the asset
// whose allocation lags its target the most.
func Allocate(weights map[string]float64, prices map[string]float64, budget float64) (*Result, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %v", budget)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("no weights provided")
	}

	weightSum := decimal.Zero
	for ticker, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight for %s", ticker)
		}
		weightSum = weightSum.Add(decimal.NewFromFloat(w))
	}
	if weightSum.LessThan(decimal.NewFromFloat(1e-9)) {
		return nil, fmt.Errorf("weights sum to zero")
	}

	tickers := make([]string, 0, len(weights))
	for ticker := range weights {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	budgetDec := decimal.NewFromFloat(budget)
	priceDec := make(map[string]decimal.Decimal, len(tickers))
	targetDec := make(map[string]decimal.Decimal, len(tickers))
	for _, ticker := range tickers {
		price, ok := prices[ticker]
		if !ok || price <= 0 {
			return nil, fmt.Errorf("no price available for %s", ticker)
		}
		priceDec[ticker] = decimal.NewFromFloat(price)
		w := decimal.NewFromFloat(weights[ticker]).Div(weightSum)
		targetDec[ticker] = w.Mul(budgetDec)
	}

	shares := make(map[string]int64, len(tickers))
	remaining := budgetDec

	// Floor pass.
	for _, ticker := range tickers {
		n := targetDec[ticker].Div(priceDec[ticker]).Floor()
		count := n.IntPart()
		if count <= 0 {
			shares[ticker] = 0
			continue
		}
		cost := priceDec[ticker].Mul(n)
		if cost.GreaterThan(remaining) {
			count = remaining.Div(priceDec[ticker]).Floor().IntPart()
			cost = priceDec[ticker].Mul(decimal.NewFromInt(count))
		}
		shares[ticker] = count
		remaining = remaining.Sub(cost)
	}

	// Remainder pass: buy one share of the most underweighted affordable
	// asset until nothing fits.
	for {
		bestTicker := ""
		bestDeficit := decimal.Zero
		for _, ticker := range tickers {
			price := priceDec[ticker]
			if price.GreaterThan(remaining) {
				continue
			}
			spent := price.Mul(decimal.NewFromInt(shares[ticker]))
			deficit := targetDec[ticker].Sub(spent)
			if bestTicker == "" || deficit.GreaterThan(bestDeficit) {
				bestTicker = ticker
				bestDeficit = deficit
			}
		}
		if bestTicker == "" {
			break
		}
		shares[bestTicker]++
		remaining = remaining.Sub(priceDec[bestTicker])
	}

	allocated := budgetDec.Sub(remaining)
	outPrices := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		outPrices[ticker], _ = priceDec[ticker].Float64()
	}

	leftover, _ := remaining.Round(2).Float64()
	spent, _ := allocated.Round(2).Float64()

	return &Result{
		Shares:        shares,
		LeftoverCash:  leftover,
		AllocatedCash: spent,
		Prices:        outPrices,
	}, nil
}
