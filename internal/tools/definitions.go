package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcportfolio/mcportfolio/internal/modules/allocation"
	"github.com/mcportfolio/mcportfolio/internal/modules/blacklitterman"
	"github.com/mcportfolio/mcportfolio/internal/modules/convex"
	"github.com/mcportfolio/mcportfolio/internal/modules/hierarchical"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/internal/modules/optimization"
)

func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func arrayProp(itemType, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": itemType},
		"description": description,
	}
}

func tickersProp() map[string]interface{} {
	return arrayProp("string", "Stock tickers, e.g. [\"AAPL\", \"MSFT\"]")
}

func registerAll(r *Registry, svc Services) {
	r.register(healthcheckTool(svc.Version))
	r.register(retrieveStockDataTool(svc.MarketData))
	r.register(solvePortfolioTool(svc.Optimization))
	r.register(solveEfficientFrontierTool(svc.Optimization))
	r.register(solveCLATool(svc.Optimization))
	r.register(solveBlackLittermanTool(svc.BlackLitterman))
	r.register(solveHierarchicalTool(svc.Hierarchical))
	r.register(solveDiscreteAllocationTool(svc.Allocation))
	r.register(solveConvexProblemTool(svc.Convex))
	r.register(simpleConvexSolverTool(svc.Convex))
}

func healthcheckTool(version string) *Tool {
	return &Tool{
		Name:        "healthcheck",
		Description: "Check that the server is alive and responding.",
		InputSchema: schema(map[string]interface{}{}),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return map[string]interface{}{
				"server":  "ok",
				"version": version,
				"time":    time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
	}
}

func retrieveStockDataTool(data *marketdata.Service) *Tool {
	type params struct {
		Tickers []string `json:"tickers"`
		Period  string   `json:"period"`
	}

	return &Tool{
		Name: "retrieve_stock_data",
		Description: "Retrieve historical price data for the given tickers: prices, daily returns, " +
			"annualized mean returns, covariance matrix and per-ticker indicators. " +
			"Periods: 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max.",
		InputSchema: schema(map[string]interface{}{
			"tickers": tickersProp(),
			"period":  prop("string", "Time period to retrieve, defaults to 1y"),
		}, "tickers"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			if p.Period == "" {
				p.Period = marketdata.DefaultPeriod
			}

			ds, err := data.Dataset(ctx, p.Tickers, p.Period)
			if err != nil {
				return nil, err
			}

			indicators := make(map[string]marketdata.Indicators, len(ds.Tickers))
			for _, ticker := range ds.Tickers {
				indicators[ticker] = marketdata.ComputeIndicators(ds.Prices[ticker])
			}

			return map[string]interface{}{
				"tickers":      ds.Tickers,
				"prices":       ds.Prices,
				"returns":      ds.Returns,
				"mean_returns": ds.MeanReturns,
				"cov_matrix":   ds.CovMatrix,
				"start_date":   ds.StartDate,
				"end_date":     ds.EndDate,
				"num_days":     ds.NumDays,
				"indicators":   indicators,
				"note":         ds.Note,
			}, nil
		},
	}
}

func solvePortfolioTool(opt *optimization.Service) *Tool {
	type params struct {
		Description      string   `json:"description"`
		Tickers          []string `json:"tickers"`
		Constraints      []string `json:"constraints"`
		Objective        string   `json:"objective"`
		RiskFreeRate     *float64 `json:"risk_free_rate"`
		RiskAversion     float64  `json:"risk_aversion"`
		TargetReturn     *float64 `json:"target_return"`
		TargetVolatility *float64 `json:"target_volatility"`
	}

	return &Tool{
		Name: "solve_portfolio",
		Description: "Optimize a portfolio of stocks from historical data. Objectives: " +
			"minimize_volatility, maximize_sharpe_ratio, maximize_quadratic_utility, " +
			"efficient_risk, efficient_return. Constraints: \"max_weight 0.3\", " +
			"\"min_weight 0.05\", \"sector_tech 0.4\", \"max_volatility 0.2\".",
		InputSchema: schema(map[string]interface{}{
			"description":       prop("string", "Free-text description of the problem"),
			"tickers":           tickersProp(),
			"constraints":       arrayProp("string", "Constraint strings"),
			"objective":         prop("string", "Optimization objective, defaults to maximize_sharpe_ratio"),
			"risk_free_rate":    prop("number", "Annual risk-free rate, defaults to the server's configured rate"),
			"risk_aversion":     prop("number", "Risk aversion for quadratic utility, defaults to 1"),
			"target_return":     prop("number", "Target annual return for efficient_return"),
			"target_volatility": prop("number", "Target annual volatility for efficient_risk"),
		}, "tickers"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return opt.SolvePortfolio(ctx, optimization.PortfolioRequest{
				Tickers:          p.Tickers,
				Objective:        p.Objective,
				Constraints:      p.Constraints,
				RiskFreeRate:     p.RiskFreeRate,
				RiskAversion:     p.RiskAversion,
				TargetReturn:     p.TargetReturn,
				TargetVolatility: p.TargetVolatility,
			})
		},
	}
}

type frontierParams struct {
	Description  string   `json:"description"`
	Tickers      []string `json:"tickers"`
	MinWeight    float64  `json:"min_weight"`
	MaxWeight    float64  `json:"max_weight"`
	RiskFreeRate float64  `json:"risk_free_rate"`
}

func frontierSchema() map[string]interface{} {
	return schema(map[string]interface{}{
		"description":    prop("string", "Free-text description of the problem"),
		"tickers":        tickersProp(),
		"min_weight":     prop("number", "Per-asset weight floor, defaults to 0"),
		"max_weight":     prop("number", "Per-asset weight cap, defaults to 1"),
		"risk_free_rate": prop("number", "Annual risk-free rate, defaults to 0"),
	}, "tickers")
}

func solveEfficientFrontierTool(opt *optimization.Service) *Tool {
	return &Tool{
		Name: "solve_efficient_frontier",
		Description: "Find the maximum Sharpe ratio portfolio on the efficient frontier " +
			"subject to per-asset weight bounds.",
		InputSchema: frontierSchema(),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p frontierParams
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return opt.SolveEfficientFrontier(ctx, optimization.FrontierRequest{
				Tickers:      p.Tickers,
				MinWeight:    p.MinWeight,
				MaxWeight:    p.MaxWeight,
				RiskFreeRate: p.RiskFreeRate,
			})
		},
	}
}

func solveCLATool(opt *optimization.Service) *Tool {
	return &Tool{
		Name: "solve_cla",
		Description: "Trace the efficient frontier over a grid of target returns and report " +
			"the maximum Sharpe ratio portfolio found.",
		InputSchema: frontierSchema(),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p frontierParams
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return opt.SolveCLA(ctx, optimization.FrontierRequest{
				Tickers:      p.Tickers,
				MinWeight:    p.MinWeight,
				MaxWeight:    p.MaxWeight,
				RiskFreeRate: p.RiskFreeRate,
			})
		},
	}
}

func solveBlackLittermanTool(bl *blacklitterman.Service) *Tool {
	type viewParam struct {
		Asset          string   `json:"asset"`
		ExpectedReturn float64  `json:"expected_return"`
		Confidence     *float64 `json:"confidence"`
	}
	type params struct {
		Description      string             `json:"description"`
		Tickers          []string           `json:"tickers"`
		Views            []viewParam        `json:"views"`
		MarketCapWeights map[string]float64 `json:"market_cap_weights"`
		Tau              float64            `json:"tau"`
		RiskAversion     float64            `json:"risk_aversion"`
		RiskFreeRate     float64            `json:"risk_free_rate"`
		MinWeight        float64            `json:"min_weight"`
		MaxWeight        float64            `json:"max_weight"`
	}

	return &Tool{
		Name: "solve_black_litterman",
		Description: "Blend market-implied equilibrium returns with investor views " +
			"(Black-Litterman) and optimize the resulting posterior for maximum Sharpe ratio. " +
			"Each view has asset, expected_return and confidence in [0, 1].",
		InputSchema: schema(map[string]interface{}{
			"description": prop("string", "Free-text description of the problem"),
			"tickers":     tickersProp(),
			"views": map[string]interface{}{
				"type": "array",
				"items": schema(map[string]interface{}{
					"asset":           prop("string", "Ticker the view applies to"),
					"expected_return": prop("number", "Annual expected return under the view"),
					"confidence":      prop("number", "View confidence in [0, 1], defaults to 1"),
				}, "asset", "expected_return"),
				"description": "Absolute per-asset views",
			},
			"market_cap_weights": prop("object", "Optional market-cap weights per ticker"),
			"tau":                prop("number", "Prior uncertainty scaling, defaults to 0.05"),
			"risk_aversion":      prop("number", "Market risk aversion delta, defaults to 1"),
			"risk_free_rate":     prop("number", "Annual risk-free rate, defaults to 0"),
			"min_weight":         prop("number", "Per-asset weight floor, defaults to 0"),
			"max_weight":         prop("number", "Per-asset weight cap, defaults to 1"),
		}, "tickers"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			views := make([]blacklitterman.View, len(p.Views))
			for i, v := range p.Views {
				// Confidence defaults to 1 when omitted; explicit zero is kept.
				conf := 1.0
				if v.Confidence != nil {
					conf = *v.Confidence
				}
				views[i] = blacklitterman.View{
					Asset:          v.Asset,
					ExpectedReturn: v.ExpectedReturn,
					Confidence:     conf,
				}
			}
			return bl.Solve(ctx, blacklitterman.Request{
				Tickers:          p.Tickers,
				Views:            views,
				MarketCapWeights: p.MarketCapWeights,
				Tau:              p.Tau,
				RiskAversion:     p.RiskAversion,
				RiskFreeRate:     p.RiskFreeRate,
				MinWeight:        p.MinWeight,
				MaxWeight:        p.MaxWeight,
			})
		},
	}
}

func solveHierarchicalTool(h *hierarchical.Service) *Tool {
	type params struct {
		Description  string   `json:"description"`
		Tickers      []string `json:"tickers"`
		MinWeight    float64  `json:"min_weight"`
		MaxWeight    float64  `json:"max_weight"`
		RiskFreeRate float64  `json:"risk_free_rate"`
		Linkage      string   `json:"linkage"`
	}

	return &Tool{
		Name: "solve_hierarchical_portfolio",
		Description: "Allocate a portfolio with Hierarchical Risk Parity: correlation " +
			"clustering and recursive bisection instead of mean-variance optimization.",
		InputSchema: schema(map[string]interface{}{
			"description":    prop("string", "Free-text description of the problem"),
			"tickers":        tickersProp(),
			"min_weight":     prop("number", "Per-asset weight floor, defaults to 0"),
			"max_weight":     prop("number", "Per-asset weight cap, defaults to 1"),
			"risk_free_rate": prop("number", "Annual risk-free rate, defaults to 0"),
			"linkage":        prop("string", "Cluster linkage: single, complete or average"),
		}, "tickers"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return h.Solve(ctx, hierarchical.Request{
				Tickers:      p.Tickers,
				MinWeight:    p.MinWeight,
				MaxWeight:    p.MaxWeight,
				RiskFreeRate: p.RiskFreeRate,
				Linkage:      p.Linkage,
			})
		},
	}
}

func solveDiscreteAllocationTool(alloc *allocation.Service) *Tool {
	type params struct {
		Weights map[string]float64 `json:"weights"`
		Budget  float64            `json:"budget"`
		Prices  map[string]float64 `json:"prices"`
	}

	return &Tool{
		Name: "solve_discrete_allocation",
		Description: "Convert continuous portfolio weights into whole share counts under a " +
			"cash budget using latest prices. Prices may be supplied or fetched.",
		InputSchema: schema(map[string]interface{}{
			"weights": prop("object", "Target weights per ticker"),
			"budget":  prop("number", "Total cash budget"),
			"prices":  prop("object", "Optional share prices per ticker"),
		}, "weights", "budget"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return alloc.Solve(ctx, allocation.Request{
				Weights: p.Weights,
				Budget:  p.Budget,
				Prices:  p.Prices,
			})
		},
	}
}

func solveConvexProblemTool(cv *convex.Service) *Tool {
	type params struct {
		Problem convex.ProblemSpec `json:"problem"`
	}

	return &Tool{
		Name: "solve_convex_problem",
		Description: "Solve an optimization problem given as expression strings: variables " +
			"with shapes, a minimize/maximize objective, constraint expressions " +
			"(<=, >=, ==) and named parameters.",
		InputSchema: schema(map[string]interface{}{
			"problem": schema(map[string]interface{}{
				"variables": map[string]interface{}{
					"type": "array",
					"items": schema(map[string]interface{}{
						"name":  prop("string", "Variable name"),
						"shape": prop("integer", "1 for scalar, n for a vector"),
					}, "name", "shape"),
					"description": "Optimization variables",
				},
				"objective": schema(map[string]interface{}{
					"type":       prop("string", "minimize or maximize"),
					"expression": prop("string", "Objective expression"),
				}, "type", "expression"),
				"constraints": map[string]interface{}{
					"type": "array",
					"items": schema(map[string]interface{}{
						"expression":  prop("string", "Constraint expression"),
						"description": prop("string", "Optional note"),
					}, "expression"),
					"description": "Constraint expressions",
				},
				"parameters":  prop("object", "Named scalar/vector/matrix parameters"),
				"description": prop("string", "Free-text description"),
			}, "variables", "objective"),
		}, "problem"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p params
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return cv.SolveProblem(p.Problem)
		},
	}
}

func simpleConvexSolverTool(cv *convex.Service) *Tool {
	return &Tool{
		Name: "simple_convex_solver",
		Description: "Simplified interface to the expression solver: variables, " +
			"objective_type, objective_expr, constraint strings and parameters as flat fields.",
		InputSchema: schema(map[string]interface{}{
			"variables": map[string]interface{}{
				"type": "array",
				"items": schema(map[string]interface{}{
					"name":  prop("string", "Variable name"),
					"shape": prop("integer", "1 for scalar, n for a vector"),
				}, "name", "shape"),
				"description": "Optimization variables",
			},
			"objective_type": prop("string", "minimize or maximize"),
			"objective_expr": prop("string", "Objective expression"),
			"constraints":    arrayProp("string", "Constraint expressions"),
			"parameters":     prop("object", "Named scalar/vector/matrix parameters"),
			"description":    prop("string", "Free-text description"),
		}, "variables", "objective_type", "objective_expr"),
		handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p convex.SimpleSpec
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			return cv.SolveSimple(p)
		},
	}
}
