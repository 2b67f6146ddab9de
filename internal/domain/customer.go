package domain

import (
	"time"
)

// Customer is one row of the customer ledger: identity plus rolling
// aggregate risk statistics maintained as transactions are recorded.
type Customer struct {
	ID                string    `json:"customerId"`
	RegistrationDate  time.Time `json:"registrationDate"`
	TotalTransactions int64     `json:"totalTransactions"`
	TotalFraudCases   int64     `json:"totalFraudCases"`

	// RiskScore is owned by the external scoring pipeline; the service
	// only stores the value it is given.
	RiskScore float64 `json:"riskScore"`
}

// CustomerRequest is the API request payload for customer registration.
type CustomerRequest struct {
	CustomerID       string     `json:"customerId"`
	RegistrationDate *time.Time `json:"registrationDate,omitempty"`
}

// ToCustomer converts a request to a Customer ledger row.
func (r *CustomerRequest) ToCustomer() *Customer {
	registered := time.Now().UTC()
	if r.RegistrationDate != nil {
		registered = r.RegistrationDate.UTC()
	}
	return &Customer{
		ID:               r.CustomerID,
		RegistrationDate: registered,
	}
}
