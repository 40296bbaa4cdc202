package models

import id "permguard/pkg/domain"

// Principal is the authenticated caller. Defined in pkg/domain so request
// context plumbing can carry it without importing this package.
type Principal = id.Principal
