package repository

import "strings"

// TransactionSortFields is the whitelist for ledger history ordering.
var TransactionSortFields = map[string]bool{
	"created_at": true,
	"amount":     true,
}

var sortFieldAliases = map[string]string{
	"createdAt": "created_at",
}

// ValidateSortOrder normalizes the sort order to ASC or DESC, defaulting to DESC.
func ValidateSortOrder(orderDir string) string {
	if strings.ToUpper(strings.TrimSpace(orderDir)) == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when it is whitelisted, otherwise defaultField.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if alias, ok := sortFieldAliases[trimmed]; ok {
		trimmed = alias
	}
	if trimmed == "" || !allowedFields[trimmed] {
		return defaultField
	}
	return trimmed
}
