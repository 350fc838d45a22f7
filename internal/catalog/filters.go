package catalog

import "slices"

// Slot names consulted by FiltersFromSlots.
const (
	SlotUsage  = "usage_purpose"
	SlotBudget = "budget_range"
	SlotCPU    = "cpu_preference"
	SlotGPU    = "gpu_preference"
	SlotWeight = "weight_requirement"
	SlotScreen = "screen_size"
	SlotBrand  = "brand_preference"
)

// PriceRange is a half-open NTD range [Min, Max). Max 0 means unbounded.
type PriceRange struct {
	Min, Max int
}

// Contains reports whether price falls in the range.
func (r PriceRange) Contains(price int) bool {
	return price >= r.Min && (r.Max == 0 || price < r.Max)
}

// BudgetRanges maps budget_range slot values to prices.
var BudgetRanges = map[string]PriceRange{
	"budget":    {Max: 25000},
	"mid_range": {Min: 25000, Max: 40000},
	"premium":   {Min: 40000, Max: 60000},
	"luxury":    {Min: 60000},
}

// Weight and screen bands.
const (
	ultralightMaxKg      = 1.4
	standardWeightMaxKg  = 2.2
	compactScreenMaxInch = 15.0
	largeScreenMinInch   = 17.0
)

// Filters narrow a search to products compatible with resolved slots. Empty
// fields do not filter.
type Filters struct {
	Usage  string
	Budget string
	CPU    string
	GPU    string
	Weight string
	Screen string
	Brand  string
}

// FiltersFromSlots builds Filters from slot name to value assignments.
func FiltersFromSlots(slots map[string]string) Filters {
	return Filters{
		Usage:  slots[SlotUsage],
		Budget: slots[SlotBudget],
		CPU:    slots[SlotCPU],
		GPU:    slots[SlotGPU],
		Weight: slots[SlotWeight],
		Screen: slots[SlotScreen],
		Brand:  slots[SlotBrand],
	}
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f == Filters{}
}

// Match reports whether p satisfies every set filter. Unknown filter values
// match everything.
func (f Filters) Match(p *Product) bool {
	if f.Usage != "" && !slices.Contains(p.Usage, f.Usage) {
		return false
	}
	if r, ok := BudgetRanges[f.Budget]; ok && !r.Contains(p.Price) {
		return false
	}
	if f.CPU != "" && p.CPUVendor != "" && p.CPUVendor != f.CPU {
		return false
	}
	if f.Brand != "" && p.Brand != f.Brand {
		return false
	}
	if !matchGPU(f.GPU, p.GPUTier) {
		return false
	}
	if !matchWeight(f.Weight, p.WeightKg) {
		return false
	}
	return matchScreen(f.Screen, p.ScreenInch)
}

func (f Filters) usageFit(p *Product) int {
	if f.Usage == "" {
		return 0
	}
	// Specialised machines first: fewer tags means a closer fit.
	if slices.Contains(p.Usage, f.Usage) {
		return 10 - min(len(p.Usage), 10)
	}
	return 0
}

func matchGPU(want, tier string) bool {
	switch want {
	case "integrated":
		return tier == "integrated"
	case "dedicated":
		return tier == "dedicated" || tier == "high_end"
	case "high_end":
		return tier == "high_end"
	default:
		return true
	}
}

func matchWeight(want string, kg float64) bool {
	if kg <= 0 {
		return true
	}
	switch want {
	case "ultralight":
		return kg <= ultralightMaxKg
	case "standard":
		return kg > ultralightMaxKg && kg <= standardWeightMaxKg
	case "desktop_replacement":
		return kg > standardWeightMaxKg
	default:
		return true
	}
}

func matchScreen(want string, inch float64) bool {
	if inch <= 0 {
		return true
	}
	switch want {
	case "compact":
		return inch < compactScreenMaxInch
	case "standard":
		return inch >= compactScreenMaxInch && inch < largeScreenMinInch
	case "large":
		return inch >= largeScreenMinInch
	default:
		return true
	}
}
