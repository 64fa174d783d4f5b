package rules

import (
	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

// DefaultVersion is the version of the built-in rule book.
const DefaultVersion = "lm-2011.1"

const (
	siUnitExpr  = `(?i)\d\s*(?:kg|g|gm|gms|mg|ml|l|ltr|litres?|liters?|grams?|kilograms?|millilit(?:re|er)s?|pcs|pieces|units?|nos?|n)\b`
	approxExpr  = `(?i)\b(?:approx(?:\.|imately)?|about|around|nearly|minimum|min\.|at\s+least)`
	mrpDeclExpr = `(?i)(?:₹|\brs\.?|\binr\b|incl|tax)`
	fssaiExpr   = `^\d{14}$`
)

// universalRules apply to every category, generic included.
func universalRules() []Rule {
	return []Rule{
		{Code: "LM-GEN-001", Field: catalog.ManufacturerOrImporter, Requirement: Always, Validator: Presence(), Penalty: 20,
			Message: "Name of the manufacturer, packer or importer is not declared"},
		{Code: "LM-GEN-002", Field: catalog.NetQuantity, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Net quantity is not declared"},
		{Code: "LM-GEN-003", Field: catalog.MRPInclusiveOfTaxes, Requirement: Always, Validator: Presence(), Penalty: 20,
			Message: "Maximum retail price inclusive of all taxes is not declared"},
		{Code: "LM-GEN-004", Field: catalog.ConsumerCareInformation, Requirement: Always, Validator: Presence(), Penalty: 10,
			Message: "Consumer care details are not declared"},
		{Code: "LM-GEN-005", Field: catalog.DateOfManufactureOrImport, Requirement: Always, Validator: Presence(), Penalty: 10,
			Message: "Month and year of manufacture or import is not declared"},
		{Code: "LM-GEN-006", Field: catalog.CountryOfOrigin, Requirement: IfImported, Validator: Presence(), Penalty: 15,
			Message: "Country of origin is not declared for an imported product"},
		{Code: "LM-AUD-010", Field: catalog.NetQuantity, Requirement: Optional, Validator: Pattern(siUnitExpr), Penalty: 10,
			Message: "Net quantity is not expressed in standard units of weight, volume or number"},
		{Code: "LM-AUD-011", Field: catalog.NetQuantity, Requirement: Optional, Validator: Forbid(approxExpr), Penalty: 15,
			Message: "Net quantity uses a prohibited approximation"},
		{Code: "LM-AUD-012", Field: catalog.MRPInclusiveOfTaxes, Requirement: Optional, Validator: Pattern(mrpDeclExpr), Penalty: 10,
			Message: "MRP is not declared in rupees inclusive of all taxes"},
	}
}

// detailRules need the declaration detail fields, which only concrete categories carry.
func detailRules() []Rule {
	return []Rule{
		{Code: "LM-AUD-007", Field: catalog.CommonGenericName, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Common or generic name of the commodity is not declared"},
		{Code: "LM-AUD-008", Field: catalog.ManufacturerAddress, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Complete address of the manufacturer or packer is not declared"},
		{Code: "LM-AUD-009", Field: catalog.ImporterAddress, Requirement: IfImported, Validator: Presence(), Penalty: 15,
			Message: "Address of the importer is not declared for an imported product"},
		{Code: "LM-AUD-013", Field: catalog.SellingPrice, Requirement: Optional, Validator: AtMostField(catalog.MRPInclusiveOfTaxes), Penalty: 25,
			Message: "Selling price exceeds the declared MRP"},
	}
}

func foodRules() []Rule {
	return []Rule{
		{Code: "LM-FOOD-001", Field: catalog.FSSAILicense, Requirement: Always, Validator: Presence(), Penalty: 20,
			Message: "FSSAI license number is not declared"},
		{Code: "LM-FOOD-002", Field: catalog.FSSAILicense, Requirement: Optional, Validator: Pattern(fssaiExpr), Penalty: 10,
			Message: "FSSAI license number must be 14 digits"},
		{Code: "LM-FOOD-003", Field: catalog.ExpiryDate, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Best before or expiry date is not declared"},
		{Code: "LM-FOOD-004", Field: catalog.IngredientsList, Requirement: Always, Validator: Presence(), Penalty: 10,
			Message: "List of ingredients is not declared"},
		{Code: "LM-FOOD-005", Field: catalog.VegNonVegSymbol, Requirement: Always, Validator: Presence(), Penalty: 10,
			Message: "Vegetarian or non-vegetarian symbol is not declared"},
		{Code: "LM-FOOD-006", Field: catalog.NutritionalInfo, Requirement: Always, Validator: Presence(), Penalty: 5,
			Message: "Nutritional information is not declared"},
		{Code: "LM-FOOD-007", Field: catalog.AllergenInfo, Requirement: Always, Validator: Presence(), Penalty: 5,
			Message: "Allergen information is not declared"},
	}
}

func electronicsRules() []Rule {
	return []Rule{
		{Code: "LM-ELEC-001", Field: catalog.BISCertification, Requirement: Always, Validator: Presence(), Penalty: 20,
			Message: "BIS certification (ISI mark or R-number) is not declared"},
		{Code: "LM-ELEC-002", Field: catalog.WarrantyPeriod, Requirement: Always, Validator: Presence(), Penalty: 5,
			Message: "Warranty period is not declared"},
		{Code: "LM-ELEC-003", Field: catalog.PowerRating, Requirement: IfAppliance, Validator: Presence(), Penalty: 10,
			Message: "Power rating is not declared for an appliance"},
		{Code: "LM-ELEC-004", Field: catalog.ModelNumber, Requirement: Always, Validator: Presence(), Penalty: 5,
			Message: "Model number is not declared"},
		{Code: "LM-ELEC-005", Field: catalog.EnergyRating, Requirement: IfAppliance, Validator: Presence(), Penalty: 10,
			Message: "BEE energy rating is not declared for an appliance"},
	}
}

func cosmeticsRules() []Rule {
	return []Rule{
		{Code: "LM-COS-001", Field: catalog.BatchLotNumber, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Batch or lot number is not declared"},
		{Code: "LM-COS-002", Field: catalog.ExpiryDate, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "Expiry date is not declared"},
		{Code: "LM-COS-003", Field: catalog.IngredientsList, Requirement: Always, Validator: Presence(), Penalty: 15,
			Message: "List of ingredients is not declared"},
		{Code: "LM-COS-004", Field: catalog.UsageInstructions, Requirement: Always, Validator: Presence(), Penalty: 5,
			Message: "Directions for use are not declared"},
	}
}

func concat(parts ...[]Rule) []Rule {
	var out []Rule
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// DefaultSets returns the built-in rule sets, one per catalog category.
func DefaultSets() []RuleSet {
	return []RuleSet{
		{Category: catalog.Generic, Rules: universalRules()},
		{Category: catalog.Food, Rules: concat(universalRules(), detailRules(), foodRules())},
		{Category: catalog.Electronics, Rules: concat(universalRules(), detailRules(), electronicsRules())},
		{Category: catalog.Cosmetics, Rules: concat(universalRules(), detailRules(), cosmeticsRules())},
	}
}

// Default returns the built-in rule book. It panics only if the built-in
// sets are inconsistent with the catalog, which the tests rule out.
func Default() *Book {
	b, err := NewBook(DefaultVersion, DefaultSets())
	if err != nil {
		panic(err)
	}
	return b
}
