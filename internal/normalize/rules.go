package normalize

import "github.com/bankline-io/bankline-worker/internal/models"

// signInverted marks providers whose native convention reports outflows as
// positive amounts. The canonical convention is positive = inflow.
var signInverted = map[models.ProviderKind]bool{
	models.ProviderFincore: true,
}

// minorUnitExponent is the exponent applied to minor-unit amounts. All
// currently supported providers report cent-based currencies.
const minorUnitExponent = -2

// categoryRules maps provider-native category codes to canonical categories.
// An explicit mapping always beats the amount-sign heuristic; a code with no
// mapping falls through to the heuristic, then to no category at all.
var categoryRules = map[models.ProviderKind]map[string]string{
	models.ProviderSandbank: {
		"groceries":     "groceries",
		"dining":        "meals",
		"transport":     "travel",
		"travel":        "travel",
		"rent":          "housing",
		"utilities":     "utilities",
		"salary":        "income",
		"subscriptions": "software",
		"bank_fees":     "fees",
	},
	models.ProviderFincore: {
		"CAT-1001": "groceries",
		"CAT-1002": "meals",
		"CAT-2001": "travel",
		"CAT-3001": "income",
		"CAT-3002": "income",
		"CAT-4001": "housing",
		"CAT-4002": "utilities",
		"CAT-9001": "fees",
	},
	// Brightfin carries no category codes; everything falls through to the
	// heuristic.
	models.ProviderBrightfin: {},
}

// heuristicCategory is the tentative category assigned by the amount-sign
// heuristic for inflows.
const heuristicCategory = "income"
