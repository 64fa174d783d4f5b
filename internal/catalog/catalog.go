// Package catalog is the static category catalog shared by field extraction
// and rule validation. Every category owns exactly one field set, and rule
// books are checked against it when they load.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Category identifies a product category.
type Category string

const (
	Generic     Category = "generic"
	Food        Category = "food"
	Electronics Category = "electronics"
	Cosmetics   Category = "cosmetics"
)

// Field names a declaration attribute.
type Field string

// Universal declarations, present in every field map.
const (
	ManufacturerOrImporter    Field = "manufacturer_or_importer"
	NetQuantity               Field = "net_quantity"
	MRPInclusiveOfTaxes       Field = "mrp_inclusive_of_taxes"
	ConsumerCareInformation   Field = "consumer_care_information"
	DateOfManufactureOrImport Field = "date_of_manufacture_or_import"
	CountryOfOrigin           Field = "country_of_origin"
)

// Declaration details, present once a concrete category is resolved.
const (
	ManufacturerAddress Field = "manufacturer_address"
	ImporterAddress     Field = "importer_address"
	CommonGenericName   Field = "common_generic_name"
	SellingPrice        Field = "selling_price"
)

// Category-specific declarations.
const (
	FSSAILicense        Field = "fssai_license"
	ExpiryDate          Field = "expiry_date"
	IngredientsList     Field = "ingredients_list"
	AllergenInfo        Field = "allergen_info"
	VegNonVegSymbol     Field = "veg_nonveg_symbol"
	NutritionalInfo     Field = "nutritional_info"
	BatchLotNumber      Field = "batch_lot_number"
	StorageInstructions Field = "storage_instructions"

	BISCertification   Field = "bis_certification"
	WarrantyPeriod     Field = "warranty_period"
	PowerRating        Field = "power_rating"
	ModelNumber        Field = "model_number"
	VoltageFrequency   Field = "voltage_frequency"
	EnergyRating       Field = "energy_rating"
	SerialNumber       Field = "serial_number"
	SafetyInstructions Field = "safety_instructions"

	UsageInstructions Field = "usage_instructions"
	Warnings          Field = "warnings"
	CrueltyFree       Field = "cruelty_free"
)

var (
	universal = FieldSet{
		ManufacturerOrImporter, NetQuantity, MRPInclusiveOfTaxes,
		ConsumerCareInformation, DateOfManufactureOrImport, CountryOfOrigin,
	}
	details = FieldSet{ManufacturerAddress, ImporterAddress, CommonGenericName, SellingPrice}
)

// FieldSet is an ordered set of fields.
type FieldSet []Field

// Contains reports whether f is in the set.
func (s FieldSet) Contains(f Field) bool {
	for _, x := range s {
		if x == f {
			return true
		}
	}
	return false
}

// Universal returns the fields every field map carries.
func Universal() FieldSet {
	return append(FieldSet(nil), universal...)
}

// Info describes a category for listings.
type Info struct {
	ID          Category `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

// All lists the catalog in detection priority order, generic last.
func All() []Category {
	return []Category{Food, Electronics, Cosmetics, Generic}
}

// Valid reports whether c is a catalog category.
func (c Category) Valid() bool {
	switch c {
	case Generic, Food, Electronics, Cosmetics:
		return true
	}
	return false
}

// Parse resolves a case-insensitive category name.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Fields returns the field set for c. The switch is exhaustive over the
// catalog; an unknown category gets only the universal set.
func (c Category) Fields() FieldSet {
	var specific FieldSet
	switch c {
	case Generic:
		return Universal()
	case Food:
		specific = FieldSet{
			FSSAILicense, ExpiryDate, IngredientsList, AllergenInfo,
			VegNonVegSymbol, NutritionalInfo, BatchLotNumber, StorageInstructions,
		}
	case Electronics:
		specific = FieldSet{
			BISCertification, WarrantyPeriod, PowerRating, ModelNumber,
			VoltageFrequency, EnergyRating, SerialNumber, SafetyInstructions,
		}
	case Cosmetics:
		specific = FieldSet{
			BatchLotNumber, UsageInstructions, ExpiryDate, IngredientsList,
			Warnings, CrueltyFree, AllergenInfo,
		}
	default:
		return Universal()
	}
	set := make(FieldSet, 0, len(universal)+len(details)+len(specific))
	set = append(set, universal...)
	set = append(set, details...)
	return append(set, specific...)
}

// Info returns display metadata for c.
func (c Category) Info() Info {
	switch c {
	case Food:
		return Info{c, "Food & Beverages", "Packaged food, edible oils and beverages regulated under FSSAI labelling"}
	case Electronics:
		return Info{c, "Electronics", "Electrical and electronic goods subject to BIS certification"}
	case Cosmetics:
		return Info{c, "Cosmetics & Personal Care", "Skin, hair and personal care products"}
	default:
		return Info{Generic, "Generic", "Any packaged commodity; universal declarations only"}
	}
}

var keywords = map[Category][]string{
	Food: {
		"food", "snack", "snacks", "biscuit", "biscuits", "edible oil", "cooking oil", "sunflower oil",
		"ghee", "rice", "atta", "flour", "tea", "coffee", "masala", "spices", "juice", "beverage",
		"chocolate", "noodles", "fssai", "ingredients", "nutrition", "nutritional", "vegetarian",
	},
	Electronics: {
		"electronic", "electronics", "mobile", "smartphone", "laptop", "charger", "headphones",
		"earphones", "speaker", "power bank", "battery", "adapter", "usb", "bluetooth", "bis",
		"voltage", "wattage", "refrigerator", "washing machine", "air conditioner", "microwave",
	},
	Cosmetics: {
		"cosmetic", "cosmetics", "cream", "lotion", "shampoo", "conditioner", "soap", "skincare",
		"skin care", "serum", "face wash", "moisturizer", "moisturiser", "lipstick", "makeup",
		"sunscreen", "cruelty free", "dermatologically",
	},
}

var keywordPatterns = func() map[Category][]*regexp.Regexp {
	out := make(map[Category][]*regexp.Regexp, len(keywords))
	for c, kws := range keywords {
		for _, kw := range kws {
			out[c] = append(out[c], regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
	}
	return out
}()

// Detect picks the category with the most distinct keyword hits in text.
// Ties go to the earlier category in All order; no hits yields Generic.
func Detect(text string) Category {
	best, bestHits := Generic, 0
	for _, c := range All() {
		hits := 0
		for _, re := range keywordPatterns[c] {
			if re.MatchString(text) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best
}

// ParseField resolves a field name known to any category.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range All() {
		if c.Fields().Contains(f) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}
