package models

import (
	"strings"

	dErrors "permguard/pkg/domain-errors"
)

// DataCategory tags a permission as exposing a class of personal data.
type DataCategory string

const (
	DataCategoryPersonalIdentity   DataCategory = "personal_identity"
	DataCategoryContactInformation DataCategory = "contact_information"
	DataCategoryEmergencyContacts  DataCategory = "emergency_contacts"
	DataCategoryChildren           DataCategory = "children"
	DataCategoryEducation          DataCategory = "education"
	DataCategoryContracts          DataCategory = "contracts"
	DataCategoryDocuments          DataCategory = "documents"
	DataCategoryReviews            DataCategory = "reviews"
	DataCategorySickDays           DataCategory = "sick_days"
	DataCategorySideJobs           DataCategory = "side_jobs"
)

var knownDataCategories = map[DataCategory]struct{}{
	DataCategoryPersonalIdentity:   {},
	DataCategoryContactInformation: {},
	DataCategoryEmergencyContacts:  {},
	DataCategoryChildren:           {},
	DataCategoryEducation:          {},
	DataCategoryContracts:          {},
	DataCategoryDocuments:          {},
	DataCategoryReviews:            {},
	DataCategorySickDays:           {},
	DataCategorySideJobs:           {},
}

// ParseDataCategory accepts the canonical snake_case form, case-insensitively.
func ParseDataCategory(s string) (DataCategory, error) {
	c := DataCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown data category")
	}
	return c, nil
}

func (c DataCategory) String() string { return string(c) }

func (c DataCategory) IsValid() bool {
	_, ok := knownDataCategories[c]
	return ok
}
