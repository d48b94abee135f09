package rbac

import "strings"

// Capability is a bit set of permitted actions.
type Capability uint32

const (
	CapViewFlightLogs Capability = 1 << iota
	CapLogFlights
	CapManageFleet
	CapManageBases
	CapManageBilling
	CapManageUsers
	CapManageSessions
	CapManageTenants

	CapAll = CapViewFlightLogs | CapLogFlights | CapManageFleet | CapManageBases |
		CapManageBilling | CapManageUsers | CapManageSessions | CapManageTenants
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapViewFlightLogs, "flight_logs:read"},
	{CapLogFlights, "flight_logs:write"},
	{CapManageFleet, "fleet:manage"},
	{CapManageBases, "bases:manage"},
	{CapManageBilling, "billing:manage"},
	{CapManageUsers, "users:manage"},
	{CapManageSessions, "sessions:manage"},
	{CapManageTenants, "tenants:manage"},
}

// Has reports whether every bit of want is present in c.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Names lists the capability names present in c in declaration order.
func (c Capability) Names() []string {
	var names []string
	for _, cn := range capabilityNames {
		if c&cn.cap != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	return strings.Join(c.Names(), " ")
}
