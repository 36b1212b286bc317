// Package crm wraps the GHL (LeadConnector) REST API: calendars, free slots,
// appointments, contacts, users and sub-accounts.
package crm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
)

// APIVersion is sent in the Version header on every call.
const APIVersion = "2021-04-15"

const dateLayout = "2006-01-02"

// Client talks to one GHL location.
type Client struct {
	api        *apiclient.Client
	locationID string
	companyID  string
	timezone   string
}

// New creates a CRM client from configuration.
func New(cfg config.CRMConfig, opts ...apiclient.Option) *Client {
	base := []apiclient.Option{
		apiclient.WithBearer(cfg.APIKey),
		apiclient.WithHeader("Version", APIVersion),
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &Client{
		api:        apiclient.New(cfg.BaseURL, append(base, opts...)...),
		locationID: cfg.LocationID,
		companyID:  cfg.CompanyID,
		timezone:   tz,
	}
}

// ListCalendars returns the calendars of the configured location.
func (c *Client) ListCalendars(ctx context.Context) (map[string]any, error) {
	q := url.Values{"locationId": {c.locationID}}
	return c.api.Get(ctx, "list calendars", "/calendars/", q)
}

// FreeSlotsRequest selects a calendar and a date range.
type FreeSlotsRequest struct {
	CalendarID string `json:"calendar_id"`
	StartDate  string `json:"start_date"` // YYYY-MM-DD
	EndDate    string `json:"end_date"`   // YYYY-MM-DD, inclusive
	Timezone   string `json:"timezone,omitempty"`
}

// GetFreeSlots lists bookable slots for a calendar.
func (c *Client) GetFreeSlots(ctx context.Context, req FreeSlotsRequest) (map[string]any, error) {
	if req.CalendarID == "" {
		return nil, fmt.Errorf("%w: calendar_id is required", domain.ErrInvalidRequest)
	}
	tz := c.zone(req.Timezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", domain.ErrInvalidRequest, tz, err)
	}
	start, err := time.ParseInLocation(dateLayout, req.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date: %v", domain.ErrInvalidRequest, err)
	}
	end := start
	if req.EndDate != "" {
		if end, err = time.ParseInLocation(dateLayout, req.EndDate, loc); err != nil {
			return nil, fmt.Errorf("%w: end_date: %v", domain.ErrInvalidRequest, err)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_date before start_date", domain.ErrInvalidRequest)
	}
	// The range is inclusive of the whole end day.
	end = end.Add(24*time.Hour - time.Millisecond)

	q := url.Values{
		"startDate": {strconv.FormatInt(start.UnixMilli(), 10)},
		"endDate":   {strconv.FormatInt(end.UnixMilli(), 10)},
		"timezone":  {tz},
	}
	return c.api.Get(ctx, "get free slots", "/calendars/"+url.PathEscape(req.CalendarID)+"/free-slots", q)
}

// AppointmentRequest books a slot for a contact. Times are RFC 3339.
type AppointmentRequest struct {
	CalendarID string `json:"calendar_id"`
	ContactID  string `json:"contact_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time,omitempty"`
	Title      string `json:"title,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// CreateAppointment books an appointment.
func (c *Client) CreateAppointment(ctx context.Context, req AppointmentRequest) (map[string]any, error) {
	if req.CalendarID == "" || req.ContactID == "" || req.StartTime == "" {
		return nil, fmt.Errorf("%w: calendar_id, contact_id and start_time are required", domain.ErrInvalidRequest)
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start_time: %v", domain.ErrInvalidRequest, err)
	}
	end := start.Add(30 * time.Minute)
	if req.EndTime != "" {
		if end, err = time.Parse(time.RFC3339, req.EndTime); err != nil {
			return nil, fmt.Errorf("%w: end_time: %v", domain.ErrInvalidRequest, err)
		}
	}

	body := map[string]any{
		"calendarId":        req.CalendarID,
		"locationId":        c.locationID,
		"contactId":         req.ContactID,
		"startTime":         start.Format(time.RFC3339),
		"endTime":           end.Format(time.RFC3339),
		"appointmentStatus": "confirmed",
		"ignoreDateRange":   false,
		"toNotify":          true,
	}
	if req.Title != "" {
		body["title"] = req.Title
	}
	if req.Notes != "" {
		body["notes"] = req.Notes
	}
	return c.api.Post(ctx, "create appointment", "/calendars/events/appointments", body)
}

// EventsRequest filters calendar events. Times are RFC 3339.
type EventsRequest struct {
	CalendarID string `json:"calendar_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// ListEvents lists appointments on a calendar within a window.
func (c *Client) ListEvents(ctx context.Context, req EventsRequest) (map[string]any, error) {
	if req.CalendarID == "" {
		return nil, fmt.Errorf("%w: calendar_id is required", domain.ErrInvalidRequest)
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start_time: %v", domain.ErrInvalidRequest, err)
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: end_time: %v", domain.ErrInvalidRequest, err)
	}
	q := url.Values{
		"locationId": {c.locationID},
		"calendarId": {req.CalendarID},
		"startTime":  {strconv.FormatInt(start.UnixMilli(), 10)},
		"endTime":    {strconv.FormatInt(end.UnixMilli(), 10)},
	}
	return c.api.Get(ctx, "list events", "/calendars/events", q)
}

// ContactRequest creates a contact.
type ContactRequest struct {
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
	Website     string   `json:"website,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateContact creates a contact in the configured location.
func (c *Client) CreateContact(ctx context.Context, req ContactRequest) (map[string]any, error) {
	if req.FirstName == "" || (req.Email == "" && req.Phone == "") {
		return nil, fmt.Errorf("%w: first_name and one of email or phone are required", domain.ErrInvalidRequest)
	}
	body := map[string]any{
		"locationId": c.locationID,
		"firstName":  req.FirstName,
	}
	setIf(body, "lastName", req.LastName)
	setIf(body, "email", req.Email)
	setIf(body, "phone", req.Phone)
	setIf(body, "companyName", req.CompanyName)
	setIf(body, "website", req.Website)
	if len(req.Tags) > 0 {
		body["tags"] = req.Tags
	}
	return c.api.Post(ctx, "create contact", "/contacts/", body)
}

// SearchContactsRequest searches contacts by free text.
type SearchContactsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchContacts finds contacts matching a query.
func (c *Client) SearchContacts(ctx context.Context, req SearchContactsRequest) (map[string]any, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := url.Values{
		"locationId": {c.locationID},
		"query":      {req.Query},
		"limit":      {strconv.Itoa(limit)},
	}
	return c.api.Get(ctx, "search contacts", "/contacts/", q)
}

// UserRequest creates a user with access to the configured location.
type UserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"` // admin or user
}

// CreateUser creates an account-level user.
func (c *Client) CreateUser(ctx context.Context, req UserRequest) (map[string]any, error) {
	if req.FirstName == "" || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: first_name, email and password are required", domain.ErrInvalidRequest)
	}
	role := req.Role
	if role != "admin" {
		role = "user"
	}
	body := map[string]any{
		"companyId":   c.companyID,
		"firstName":   req.FirstName,
		"lastName":    req.LastName,
		"email":       req.Email,
		"password":    req.Password,
		"type":        "account",
		"role":        role,
		"locationIds": []string{c.locationID},
	}
	setIf(body, "phone", req.Phone)
	return c.api.Post(ctx, "create user", "/users/", body)
}

// SubAccountRequest creates a new location under the company.
type SubAccountRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Website    string `json:"website,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// CreateSubAccount creates a location (sub-account).
func (c *Client) CreateSubAccount(ctx context.Context, req SubAccountRequest) (map[string]any, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	body := map[string]any{
		"companyId": c.companyID,
		"name":      req.Name,
		"timezone":  c.zone(req.Timezone),
	}
	setIf(body, "email", req.Email)
	setIf(body, "phone", req.Phone)
	setIf(body, "address", req.Address)
	setIf(body, "city", req.City)
	setIf(body, "state", req.State)
	setIf(body, "country", req.Country)
	setIf(body, "postalCode", req.PostalCode)
	setIf(body, "website", req.Website)
	return c.api.Post(ctx, "create sub-account", "/locations/", body)
}

func (c *Client) zone(tz string) string {
	if tz != "" {
		return tz
	}
	return c.timezone
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
