package model

import (
	"time"
)

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"

	RoleOwner      = "owner"
	RoleSuperAdmin = "superadmin"

	ChannelEmail  = "email"
	ChannelMobile = "mobile"
)

// Response is the envelope every JSON endpoint writes.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type SignupRequest struct {
	Subdomain   string `json:"subdomain"`
	Email       string `json:"email,omitempty"`
	Mobile      string `json:"mobile,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email       string `json:"email,omitempty"`
	Mobile      string `json:"mobile,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Password    string `json:"password,omitempty"`
	OTP         string `json:"otp,omitempty"`
}

// SendOTPRequest targets an email address, or a phone number when
// CountryCode is set.
type SendOTPRequest struct {
	Target      string `json:"target"`
	CountryCode string `json:"countryCode,omitempty"`
	Purpose     string `json:"purpose"`
}

type SendOTPResponse struct {
	Sent       bool `json:"sent"`
	TTLSeconds int  `json:"ttlSeconds"`
}

type VerifyOTPRequest struct {
	Target      string `json:"target"`
	CountryCode string `json:"countryCode,omitempty"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
}

type VerifyOTPResponse struct {
	Verified bool   `json:"verified"`
	Channel  string `json:"channel"`
}

type ResetPasswordRequest struct {
	Target      string `json:"target"`
	CountryCode string `json:"countryCode,omitempty"`
	Code        string `json:"code"`
	Password    string `json:"password"`
}

type SubdomainAvailability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// OwnerView is the public projection of an owner account.
type OwnerView struct {
	ID             uint      `json:"id"`
	Subdomain      string    `json:"subdomain"`
	CustomDomain   string    `json:"customDomain,omitempty"`
	Email          string    `json:"email,omitempty"`
	Mobile         string    `json:"mobile,omitempty"`
	CountryCode    string    `json:"countryCode,omitempty"`
	Plan           string    `json:"plan"`
	Role           string    `json:"role"`
	EmailVerified  bool      `json:"emailVerified"`
	MobileVerified bool      `json:"mobileVerified"`
	CreatedAt      time.Time `json:"createdAt"`
}

type OwnerList struct {
	Owners []OwnerView `json:"owners"`
	Total  int64       `json:"total"`
}

type PostRequest struct {
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Content        string `json:"content"`
	SEOTitle       string `json:"seoTitle,omitempty"`
	SEODescription string `json:"seoDescription,omitempty"`
	Published      bool   `json:"published"`
}

type PostView struct {
	ID             uint      `json:"id"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Content        string    `json:"content"`
	SEOTitle       string    `json:"seoTitle,omitempty"`
	SEODescription string    `json:"seoDescription,omitempty"`
	Published      bool      `json:"published"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PageResponse is what visitors receive for a tenant site.
type PageResponse struct {
	Subdomain string                 `json:"subdomain"`
	Plan      string                 `json:"plan"`
	Document  map[string]interface{} `json:"document"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

type DraftResponse struct {
	Document  map[string]interface{} `json:"document"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

type CreateOrderRequest struct {
	Plan string `json:"plan"`
}

type OrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Plan     string `json:"plan"`
	KeyID    string `json:"keyId"`
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type VerifyPaymentResponse struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
}

type DomainClaimRequest struct {
	Domain string `json:"domain"`
}

type DomainClaimResponse struct {
	Domain     string `json:"domain"`
	RecordName string `json:"recordName"`
	RecordType string `json:"recordType"`
	Value      string `json:"value"`
	Verified   bool   `json:"verified"`
	Reason     string `json:"reason,omitempty"`
}

type UploadRequest struct {
	ContentType string `json:"contentType"`
}

type UploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	AssetURL  string `json:"assetUrl"`
	Key       string `json:"key"`
}

type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type PreviewRequest struct {
	Form map[string]interface{} `json:"form"`
	Plan string                 `json:"plan,omitempty"`
}
