package extraction

import (
	"regexp"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
)

type normalizer int

const (
	normText normalizer = iota
	normQuantity
	normPrice
	normCountry
	normCode
)

// fieldSpec lists label patterns tried in order. Group 1 captures the value.
type fieldSpec struct {
	patterns  []*regexp.Regexp
	normalize normalizer
}

func spec(n normalizer, patterns ...string) fieldSpec {
	s := fieldSpec{normalize: n}
	for _, p := range patterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p))
	}
	return s
}

const datePattern = `(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|\d{1,2}[/\-]\d{4}|\d{1,2}\s*[A-Za-z]{3,9},?\s*\d{2,4}|[A-Za-z]{3,9}\s*\d{1,2},\s*\d{4}|[A-Za-z]{3,9}\s*\d{4})`

var fieldSpecs = map[catalog.Field]fieldSpec{
	catalog.ManufacturerOrImporter: spec(normText,
		`(?i)Manufacturer(?:\s*Name)?\s*[:\-]\s*([^\n|,]+)`,
		`(?i)(?:Importer|Marketed\s*by|Packed\s*by)\s*[:\-]\s*([^\n|,]+)`,
		`(?i)Brand\s*[:\-]\s*([^\n|,]+)`,
	),
	catalog.NetQuantity: spec(normQuantity,
		`(?i)(?:Net\s*(?:Qty|Quantity|Wt|Weight|Content|Volume|Vol)|Item\s*Weight)\.?\s*[:\-]?\s*([^\n|]{1,50})`,
	),
	catalog.MRPInclusiveOfTaxes: spec(normPrice,
		`(?i)(?:\bM\.?\s?R\.?\s?P\b\.?|Maximum\s*Retail\s*Price)\s*[:\-]?\s*([^\n|]{1,60})`,
	),
	catalog.ConsumerCareInformation: spec(normText,
		`(?i)(?:Consumer\s*(?:Care|Complaint|Support)|Customer\s*(?:Care|Support)|Helpline|Toll\s*Free)(?:\s*(?:No\.?|Number|Details))?\s*[:\-]?\s*([^\n|]+)`,
	),
	catalog.DateOfManufactureOrImport: spec(normText,
		`(?i)(?:Date\s*of\s*(?:Manufacture|Mfg|Import|Packing)|Mfg\.?\s*Date|Mfd\.?|Manufactured\s*on|Imported\s*on|Packed\s*on|Date\s*First\s*Available)\s*[:\-]?\s*`+datePattern,
	),
	catalog.CountryOfOrigin: spec(normCountry,
		`(?i)(?:Country\s*of\s*Origin|Made\s*in|Manufactured\s*in|\bOrigin\b)\s*[:\-]?\s*([A-Za-z][A-Za-z ]{1,29})`,
	),

	catalog.ManufacturerAddress: spec(normText,
		`(?i)(?:Manufacturer|Mfg\.?|Packed\s*by|Marketed\s*by)(?:\s*Address)?\s*[:\-]?\s*([^\n]*?\b\d{3}\s?\d{3}\b)`,
	),
	catalog.ImporterAddress: spec(normText,
		`(?i)(?:Importer|Imported\s*by)(?:\s*Address)?\s*[:\-]?\s*([^\n]*?\b\d{3}\s?\d{3}\b)`,
	),
	catalog.CommonGenericName: spec(normText,
		`(?i)(?:Generic\s*Name|Common\s*Name|Product\s*Type|Item\s*Type\s*Name)\s*[:\-]\s*([A-Za-z][A-Za-z \-]{1,60})`,
	),
	catalog.SellingPrice: spec(normPrice,
		`(?i)(?:Selling|Sale|Offer|Deal|Special|Our)\s*Price\s*[:\-]?\s*([^\n|]{1,40})`,
	),

	catalog.FSSAILicense: spec(normText,
		`(?i)(?:FSSAI\s*(?:Lic(?:en[cs]e)?\.?)?\s*(?:No\.?|Number)?|Lic\.?\s*No\.?)\s*[:\-]?\s*(\d{10,14})`,
	),
	catalog.ExpiryDate: spec(normText,
		`(?i)(?:Exp(?:iry)?\.?\s*Date|Best\s*Before|Use\s*By|Shelf\s*Life)\s*[:\-]?\s*(\d+\s*(?:months?|days?|years?)(?:\s*from\s*[A-Za-z ]+)?|`+datePattern[1:],
	),
	catalog.IngredientsList: spec(normText,
		`(?i)(?:Ingredients?|Composition)\s*[:\-]\s*([^\n]+)`,
	),
	catalog.AllergenInfo: spec(normText,
		`(?i)(?:Allergen(?:s)?(?:\s*Info(?:rmation)?)?|May\s*Contain|Contains)\s*[:\-]?\s*([^\n]*(?:nuts?|milk|soy|wheat|gluten|egg|peanut|sesame|fish|shellfish|sulphite|mustard)[^\n]*)`,
	),
	catalog.VegNonVegSymbol: spec(normText,
		`(?i)\b(Non[\s\-]?Vegetarian|Vegetarian|Vegan|Non[\s\-]?Veg|Veg)\b`,
	),
	catalog.NutritionalInfo: spec(normText,
		`(?i)(?:Energy|Calories?)\s*(?:\(kcal\))?\s*[:\-]?\s*(\d+(?:\.\d+)?\s*(?:kcal|cal|kj)?[^\n]*)`,
	),
	catalog.BatchLotNumber: spec(normCode,
		`(?i)\b(?:Batch|Lot)\b\s*(?:No\.?|Number|Code)?\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-]{3,})`,
	),
	catalog.StorageInstructions: spec(normText,
		`(?i)(?:Storage(?:\s*Instructions?)?|Store)\s*[:\-]?\s*([^\n]*(?:cool|dry|refrigerat|freez|temperature|away\s*from|room\s*temp|dark|moisture)[^\n]*)`,
	),

	catalog.BISCertification: spec(normCode,
		`(?i)(?:\bBIS\b|\bISI\b|Bureau\s*of\s*Indian\s*Standards?)(?:\s*(?:Cert(?:ification)?|Reg(?:istration)?))?(?:\s*No\.?)?\s*[:\-]?\s*(R-?\d{6,10}|IS\s?\d{3,5})`,
	),
	catalog.ModelNumber: spec(normCode,
		`(?i)(?:Model\s*(?:No\.?|Number|Name)?|Item\s*Model\s*Number)\s*[:\-]\s*([A-Z0-9][A-Z0-9\-/]{1,30})`,
	),
	catalog.WarrantyPeriod: spec(normText,
		`(?i)(?:Warranty|Guarantee)(?:\s*Period)?\s*[:\-]?\s*(\d+\s*(?:years?|yrs?|months?|mos?))\b`,
	),
	catalog.PowerRating: spec(normText,
		`(?i)(?:Power(?:\s*(?:Rating|Consumption|Output))?|Wattage|Rated\s*Power)\s*[:\-]?\s*(\d+(?:\.\d+)?\s*(?:kW|W|Watts?))\b`,
	),
	catalog.VoltageFrequency: spec(normText,
		`(?i)(?:Operating\s*Voltage|Voltage|Input)\s*[:\-]?\s*(\d+(?:\s*-\s*\d+)?\s*V(?:olts?)?(?:\s*[/,~]?\s*\d+\s*Hz)?)`,
	),
	catalog.EnergyRating: spec(normText,
		`(?i)(?:Energy\s*(?:Rating|Star)|Star\s*Rating|BEE\s*Rating)\s*[:\-]?\s*(\d\s*(?:Stars?)?)`,
	),
	catalog.SerialNumber: spec(normCode,
		`(?i)(?:Serial\s*(?:No\.?|Number)|S/N)\s*[:\-]?\s*([A-Z0-9\-]{6,})`,
	),
	catalog.SafetyInstructions: spec(normText,
		`(?i)(?:Safety(?:\s*Instructions?)?|Caution)\s*[:\-]\s*([^\n]+)`,
	),

	catalog.UsageInstructions: spec(normText,
		`(?i)(?:Usage|How\s*to\s*Use|Directions?(?:\s*for\s*Use)?)\s*[:\-]\s*([^\n]+)`,
	),
	catalog.Warnings: spec(normText,
		`(?i)(?:Warnings?|Caution)\s*[:\-]\s*([^\n]+)`,
	),
	catalog.CrueltyFree: spec(normText,
		`(?i)(Cruelty[\s\-]?Free|Not\s*Tested\s*on\s*Animals?)`,
	),
}

var (
	importedPattern  = regexp.MustCompile(`(?i)\bimport(?:ed|er)?\b`)
	appliancePattern = regexp.MustCompile(`(?i)\b(?:refrigerator|fridge|washing\s*machine|air\s*conditioner|fan|heater|iron|mixer|grinder|microwave)\b`)
)
