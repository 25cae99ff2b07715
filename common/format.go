package common

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	SymbolCheck = "✅"
	SymbolWarn  = "⚠️"
	SymbolCross = "❌"
	SymbolInfo  = "ℹ️"
)

// OperationDetail represents a single detail of an operation result
type OperationDetail struct {
	Message string
	Count   int
	IsRisky bool
}

// FormatSize renders a byte count the way the CLI prints it everywhere.
func FormatSize(n uint64) string {
	return humanize.IBytes(n)
}

// FormatRatio renders packed/original as a percentage of the original size.
func FormatRatio(original, packed uint64) string {
	if original == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(packed)*100/float64(original))
}

// FormatOperationResult formats an operation result with consistent styling
func FormatOperationResult(title string, details []OperationDetail, categories map[string][]OperationDetail) string {
	if len(details) == 0 && len(categories) == 0 {
		return "No operations performed"
	}

	var result strings.Builder
	result.WriteString(title)

	// Format categorized details
	if len(categories) > 0 {
		result.WriteString("\n")
		names := make([]string, 0, len(categories))
		for category := range categories {
			names = append(names, category)
		}
		sort.Strings(names)

		for _, category := range names {
			categoryDetails := categories[category]
			if len(categoryDetails) == 0 {
				continue
			}

			var emoji string
			switch {
			case strings.Contains(strings.ToLower(category), "section"):
				emoji = "📦"
			case strings.Contains(strings.ToLower(category), "record"):
				emoji = "🔍"
			case strings.Contains(strings.ToLower(category), "protect"):
				emoji = "🔒"
			default:
				emoji = "🛠️"
			}

			result.WriteString(fmt.Sprintf("%s %s:\n", emoji, strings.ToUpper(category)))
			for _, detail := range categoryDetails {
				prefix := "   ✓ "
				if detail.IsRisky {
					prefix = "   ⚠️ "
				}
				result.WriteString(prefix + detail.Message + "\n")
			}
		}
	}

	// Format uncategorized details
	if len(details) > 0 && len(categories) == 0 {
		for _, detail := range details {
			prefix := "✓ "
			if detail.IsRisky {
				prefix = "⚠️ "
			}
			result.WriteString("\n" + prefix + detail.Message)
		}
	}

	return strings.TrimSuffix(result.String(), "\n")
}

// CategorizeDetails helps categorize operation details
func CategorizeDetails(details []OperationDetail) map[string][]OperationDetail {
	categories := map[string][]OperationDetail{
		"SECTIONS":   {},
		"RECORDS":    {},
		"PROTECTION": {},
		"OTHER":      {},
	}

	for _, detail := range details {
		msg := strings.ToLower(detail.Message)
		switch {
		case strings.Contains(msg, "protect"):
			categories["PROTECTION"] = append(categories["PROTECTION"], detail)
		case strings.Contains(msg, "record") || strings.Contains(msg, "unpacked"):
			categories["RECORDS"] = append(categories["RECORDS"], detail)
		case strings.Contains(msg, "section") || strings.Contains(msg, "packed"):
			categories["SECTIONS"] = append(categories["SECTIONS"], detail)
		default:
			categories["OTHER"] = append(categories["OTHER"], detail)
		}
	}

	// Remove empty categories
	for category, details := range categories {
		if len(details) == 0 {
			delete(categories, category)
		}
	}

	return categories
}
