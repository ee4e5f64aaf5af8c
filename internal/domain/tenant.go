package domain

import "time"

// Tenant is the narrow read model of the platform's tenant directory.
type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}
