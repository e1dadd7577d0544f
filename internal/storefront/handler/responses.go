package handler

import (
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/feed"
	"storefront/internal/identity"
	"storefront/internal/order"
)

// Money is always rendered with two decimals.
const moneyPlaces = 2

type productResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         string `json:"price"`
	AgeRestricted bool   `json:"age_restricted"`
}

type cartItemResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	UnitPrice     string `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	AgeRestricted bool   `json:"age_restricted"`
	LineTotal     string `json:"line_total"`
}

type cartResponse struct {
	Items                 []cartItemResponse `json:"items"`
	Total                 string             `json:"total"`
	ItemCount             int                `json:"item_count"`
	HasAgeRestrictedItems bool               `json:"has_age_restricted_items"`
}

type orderLineResponse struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Total     string `json:"total"`
}

type orderResponse struct {
	ID       string              `json:"id"`
	Lines    []orderLineResponse `json:"lines"`
	Total    string              `json:"total"`
	AgeGated bool                `json:"age_gated"`
	PlacedAt time.Time           `json:"placed_at"`
}

type resultResponse struct {
	Outcome     checkout.Outcome `json:"outcome"`
	RedirectURL string           `json:"redirect_url,omitempty"`
	Order       *orderResponse   `json:"order,omitempty"`
}

type pendingResponse struct {
	RequestID            string    `json:"identity_request_id,omitempty"`
	SubmittedAt          time.Time `json:"submitted_at"`
	CorrelatesToCheckout bool      `json:"correlates_to_checkout"`
}

type verifiedValue struct {
	Value    string `json:"value"`
	Verified bool   `json:"verified"`
}

type addressResponse struct {
	StreetAddress  string `json:"street_address,omitempty"`
	StreetAddress2 string `json:"street_address_2,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	City           string `json:"city,omitempty"`
	Region         string `json:"region,omitempty"`
	Country        string `json:"country,omitempty"`
}

type profileResponse struct {
	GivenName      string           `json:"given_name,omitempty"`
	FamilyName     string           `json:"family_name,omitempty"`
	NameVerified   bool             `json:"name_verified"`
	DateOfBirth    *verifiedValue   `json:"date_of_birth,omitempty"`
	Age            *int             `json:"age,omitempty"`
	Email          *verifiedValue   `json:"email,omitempty"`
	Phone          *verifiedValue   `json:"phone,omitempty"`
	BillingAddress *addressResponse `json:"billing_address,omitempty"`
}

type sessionResponse struct {
	SessionID  string           `json:"session_id"`
	State      checkout.State   `json:"state"`
	Verified   bool             `json:"verified"`
	VerifiedAt *time.Time       `json:"verified_at,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Cart       cartResponse     `json:"cart"`
	Pending    *pendingResponse `json:"pending_verification,omitempty"`
	Block      *checkout.Block  `json:"block,omitempty"`
	LastOrder  *orderResponse   `json:"last_order,omitempty"`
	Profile    *profileResponse `json:"profile,omitempty"`
}

type eventsResponse struct {
	Events []feed.Entry `json:"events"`
	// Next is the cursor to pass as ?after= on the following poll.
	Next uint64 `json:"next"`
}

type providerConfigResponse struct {
	ClientID    string `json:"client_id"`
	Environment string `json:"environment"`
	GatewayMode string `json:"gateway_mode"`
}

type submissionResponse struct {
	RequestID  string `json:"identity_request_id"`
	RequestURL string `json:"identity_request_url"`
}

type statusResponse struct {
	RequestID string           `json:"identity_request_id"`
	State     identity.State   `json:"state"`
	RawState  string           `json:"raw_state"`
	Profile   *profileResponse `json:"profile,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func toProductResponses(products []catalog.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         p.Price.StringFixed(moneyPlaces),
			AgeRestricted: p.AgeRestricted,
		})
	}
	return out
}

func toCartResponse(s cart.Summary) cartResponse {
	items := make([]cartItemResponse, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, cartItemResponse{
			ID:            it.ID,
			Name:          it.Name,
			UnitPrice:     it.UnitPrice.StringFixed(moneyPlaces),
			Quantity:      it.Quantity,
			AgeRestricted: it.AgeRestricted,
			LineTotal:     it.LineTotal().StringFixed(moneyPlaces),
		})
	}
	return cartResponse{
		Items:                 items,
		Total:                 s.Total.StringFixed(moneyPlaces),
		ItemCount:             s.ItemCount,
		HasAgeRestrictedItems: s.HasAgeRestrictedItems,
	}
}

func toOrderResponse(o *order.Order) *orderResponse {
	if o == nil {
		return nil
	}
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResponse{
			ItemID:    l.ItemID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice.StringFixed(moneyPlaces),
			Quantity:  l.Quantity,
			Total:     l.Total().StringFixed(moneyPlaces),
		})
	}
	return &orderResponse{
		ID:       o.ID.String(),
		Lines:    lines,
		Total:    o.Total.StringFixed(moneyPlaces),
		AgeGated: o.AgeGated,
		PlacedAt: o.PlacedAt,
	}
}

func toResultResponse(res *checkout.Result) resultResponse {
	return resultResponse{
		Outcome:     res.Outcome,
		RedirectURL: res.RedirectURL,
		Order:       toOrderResponse(res.Order),
	}
}

func toProfileResponse(p *identity.Profile, age *int) *profileResponse {
	if p == nil {
		return nil
	}
	out := &profileResponse{Age: age}
	if p.Name != nil {
		out.GivenName = p.Name.GivenName
		out.FamilyName = p.Name.FamilyName
		out.NameVerified = p.Name.Verified
	}
	if p.DateOfBirth != nil {
		out.DateOfBirth = &verifiedValue{Value: p.DateOfBirth.Value, Verified: p.DateOfBirth.Verified}
	}
	if p.Email != nil {
		out.Email = &verifiedValue{Value: p.Email.Address, Verified: p.Email.Verified}
	}
	if p.Phone != nil {
		out.Phone = &verifiedValue{Value: p.Phone.Number, Verified: p.Phone.Verified}
	}
	if a := p.BillingAddress; a != nil {
		out.BillingAddress = &addressResponse{
			StreetAddress:  a.StreetAddress,
			StreetAddress2: a.StreetAddress2,
			PostalCode:     a.PostalCode,
			City:           a.City,
			Region:         a.Region,
			Country:        a.Country,
		}
	}
	return out
}

func toSessionResponse(sessionID string, snap checkout.Snapshot) sessionResponse {
	resp := sessionResponse{
		SessionID: sessionID,
		State:     snap.State,
		Verified:  snap.Verified,
		Cart:      toCartResponse(snap.Cart),
		Block:     snap.Block,
		LastOrder: toOrderResponse(snap.LastOrder),
	}
	if snap.Verified {
		at := snap.Verification.VerifiedAt.UTC()
		exp := snap.Verification.ExpiresAt().UTC()
		resp.VerifiedAt = &at
		resp.ExpiresAt = &exp
	}
	if p := snap.Pending; p != nil {
		resp.Pending = &pendingResponse{
			RequestID:            p.RequestID,
			SubmittedAt:          p.SubmittedAt,
			CorrelatesToCheckout: p.CorrelatesToCheckout,
		}
	}
	if pv := snap.Profile; pv != nil {
		resp.Profile = toProfileResponse(pv.Profile, pv.Age)
	}
	return resp
}
