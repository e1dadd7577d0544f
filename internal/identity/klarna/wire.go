package klarna

import (
	"strings"

	"storefront/internal/identity"
)

type createRequestBody struct {
	ReturnURL string `json:"return_url"`
	State     string `json:"state"`
}

type createResponseBody struct {
	IdentityRequestID  string `json:"identity_request_id"`
	IdentityRequestURL string `json:"identity_request_url"`
}

type statusResponseBody struct {
	IdentityRequestID string `json:"identity_request_id"`
	State             string `json:"state"`
	StateContext      *struct {
		KlarnaCustomer *struct {
			CustomerToken   string       `json:"customer_token"`
			CustomerProfile *wireProfile `json:"customer_profile"`
		} `json:"klarna_customer"`
	} `json:"state_context"`
}

type wireProfile struct {
	Name *struct {
		GivenName    string `json:"given_name"`
		FamilyName   string `json:"family_name"`
		NameVerified bool   `json:"name_verified"`
	} `json:"name"`
	DateOfBirth *struct {
		DateOfBirth         string `json:"date_of_birth"`
		DateOfBirthVerified bool   `json:"date_of_birth_verified"`
	} `json:"date_of_birth"`
	Email *struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"email"`
	Phone *struct {
		Phone         string `json:"phone"`
		PhoneVerified bool   `json:"phone_verified"`
	} `json:"phone"`
	BillingAddress *struct {
		StreetAddress  string `json:"street_address"`
		StreetAddress2 string `json:"street_address2"`
		PostalCode     string `json:"postal_code"`
		City           string `json:"city"`
		Region         string `json:"region"`
		Country        string `json:"country"`
	} `json:"billing_address"`
	CustomerID *struct {
		CustomerID string `json:"customer_id"`
	} `json:"customer_id"`
}

type errorBody struct {
	ErrorID      string `json:"error_id"`
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (b statusResponseBody) toStatus(requestID string) *identity.Status {
	status := &identity.Status{
		RequestID: requestID,
		State:     identity.ParseState(b.State),
		RawState:  b.State,
	}
	if b.IdentityRequestID != "" {
		status.RequestID = b.IdentityRequestID
	}
	if b.StateContext == nil || b.StateContext.KlarnaCustomer == nil {
		return status
	}
	status.CustomerToken = b.StateContext.KlarnaCustomer.CustomerToken
	if wp := b.StateContext.KlarnaCustomer.CustomerProfile; wp != nil {
		status.Profile = wp.toProfile()
	}
	return status
}

func (wp *wireProfile) toProfile() *identity.Profile {
	p := &identity.Profile{}
	if wp.Name != nil {
		p.Name = &identity.Name{GivenName: wp.Name.GivenName, FamilyName: wp.Name.FamilyName, Verified: wp.Name.NameVerified}
	}
	if wp.DateOfBirth != nil && strings.TrimSpace(wp.DateOfBirth.DateOfBirth) != "" {
		p.DateOfBirth = &identity.DateOfBirth{Value: wp.DateOfBirth.DateOfBirth, Verified: wp.DateOfBirth.DateOfBirthVerified}
	}
	if wp.Email != nil {
		p.Email = &identity.Email{Address: wp.Email.Email, Verified: wp.Email.EmailVerified}
	}
	if wp.Phone != nil {
		p.Phone = &identity.Phone{Number: wp.Phone.Phone, Verified: wp.Phone.PhoneVerified}
	}
	if a := wp.BillingAddress; a != nil {
		p.BillingAddress = &identity.Address{
			StreetAddress:  a.StreetAddress,
			StreetAddress2: a.StreetAddress2,
			PostalCode:     a.PostalCode,
			City:           a.City,
			Region:         a.Region,
			Country:        a.Country,
		}
	}
	if wp.CustomerID != nil {
		p.CustomerID = wp.CustomerID.CustomerID
	}
	return p
}
