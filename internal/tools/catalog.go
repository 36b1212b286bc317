package tools

import (
	"context"

	"github.com/ashureev/agentdesk/internal/crm"
	"github.com/ashureev/agentdesk/internal/heygen"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/search"
	"github.com/ashureev/agentdesk/internal/solar"
)

// Tool names exposed to the model.
const (
	SearchWeb           = "search_web"
	CaptureScreenshot   = "capture_screenshot"
	FetchFavicon        = "fetch_favicon"
	SolarReport         = "solar_report"
	GenerateAvatarVideo = "generate_avatar_video"
	VideoStatus         = "video_status"
	ListCalendars       = "list_calendars"
	GetFreeSlots        = "get_free_slots"
	CreateAppointment   = "create_appointment"
	ListAppointments    = "list_appointments"
	CreateContact       = "create_contact"
	SearchContacts      = "search_contacts"
	CreateUser          = "create_user"
	CreateSubAccount    = "create_sub_account"
)

// Services are the backends tools call. Nil services register no tools.
type Services struct {
	CRM     *crm.Client
	HeyGen  *heygen.Client
	Solar   *solar.Client
	Search  *search.Client
	Inspect *inspect.Inspector
	// Screenshots is false when no headless browser is available.
	Screenshots bool
}

type urlArgs struct {
	URL string `json:"url"`
}

// Catalog registers every tool the configured services support.
func Catalog(s Services) *Registry {
	r := NewRegistry()

	if s.Search != nil {
		r.MustRegister(Tool{
			Spec: spec(SearchWeb, "Search the web and return the top organic results.", Object(map[string]any{
				"query": String("What to search for."),
				"num":   Integer("Number of results, 1 to 20. Defaults to 5."),
			}, "query")),
			Handler: Bind(s.Search.Search),
		})
	}

	if s.Inspect != nil {
		if s.Screenshots {
			r.MustRegister(Tool{
				Spec: spec(CaptureScreenshot, "Capture a full-page screenshot of a website.", Object(map[string]any{
					"url": String("Website address, with or without scheme."),
				}, "url")),
				Handler: Bind(func(ctx context.Context, a urlArgs) (*inspect.ScreenshotResult, error) {
					return s.Inspect.CaptureScreenshot(ctx, a.URL)
				}),
			})
		}
		r.MustRegister(Tool{
			Spec: spec(FetchFavicon, "Download the favicon of a website.", Object(map[string]any{
				"url": String("Website address, with or without scheme."),
			}, "url")),
			Handler: Bind(func(ctx context.Context, a urlArgs) (*inspect.FaviconResult, error) {
				return s.Inspect.FetchFavicon(ctx, a.URL)
			}),
		})
	}

	if s.Solar != nil {
		r.MustRegister(Tool{
			Spec: spec(SolarReport, "Get the solar potential of the building closest to a coordinate.", Object(map[string]any{
				"latitude":  Number("Latitude in degrees."),
				"longitude": Number("Longitude in degrees."),
				"quality":   String("Minimum imagery quality: HIGH, MEDIUM or LOW."),
			}, "latitude", "longitude")),
			Handler: Bind(s.Solar.BuildingInsights),
		})
	}

	if s.HeyGen != nil {
		r.MustRegister(Tool{
			Spec: spec(GenerateAvatarVideo, "Start rendering a talking-avatar video from a script. Returns a video_id.", Object(map[string]any{
				"script":    String("What the avatar says."),
				"avatar_id": String("Avatar to use. Optional."),
				"voice_id":  String("Voice to use. Optional."),
				"title":     String("Video title. Optional."),
			}, "script")),
			Handler: Bind(s.HeyGen.GenerateVideo),
		})
		r.MustRegister(Tool{
			Spec: spec(VideoStatus, "Check rendering status of an avatar video.", Object(map[string]any{
				"video_id": String("ID returned by generate_avatar_video."),
			}, "video_id")),
			Handler: Bind(s.HeyGen.VideoStatus),
		})
	}

	if s.CRM != nil {
		registerCRM(r, s.CRM)
	}
	return r
}

func registerCRM(r *Registry, c *crm.Client) {
	r.MustRegister(Tool{
		Spec:    spec(ListCalendars, "List the booking calendars of the account.", Object(map[string]any{})),
		Handler: NoArgs(c.ListCalendars),
	})
	r.MustRegister(Tool{
		Spec: spec(GetFreeSlots, "List free appointment slots on a calendar.", Object(map[string]any{
			"calendar_id": String("Calendar ID from list_calendars."),
			"start_date":  String("First day, YYYY-MM-DD."),
			"end_date":    String("Last day, YYYY-MM-DD. Defaults to start_date."),
			"timezone":    String("IANA timezone, for example America/New_York."),
		}, "calendar_id", "start_date")),
		Handler: Bind(c.GetFreeSlots),
	})
	r.MustRegister(Tool{
		Spec: spec(CreateAppointment, "Book an appointment for a contact.", Object(map[string]any{
			"calendar_id": String("Calendar ID."),
			"contact_id":  String("Contact ID from create_contact or search_contacts."),
			"start_time":  String("Start, RFC 3339."),
			"end_time":    String("End, RFC 3339. Defaults to 30 minutes after start."),
			"title":       String("Appointment title."),
			"notes":       String("Notes for the rep."),
		}, "calendar_id", "contact_id", "start_time")),
		Handler: Bind(c.CreateAppointment),
	})
	r.MustRegister(Tool{
		Spec: spec(ListAppointments, "List appointments on a calendar in a time window.", Object(map[string]any{
			"calendar_id": String("Calendar ID."),
			"start_time":  String("Window start, RFC 3339."),
			"end_time":    String("Window end, RFC 3339."),
		}, "calendar_id", "start_time", "end_time")),
		Handler: Bind(c.ListEvents),
	})
	r.MustRegister(Tool{
		Spec: spec(CreateContact, "Create a CRM contact.", Object(map[string]any{
			"first_name":   String("First name."),
			"last_name":    String("Last name."),
			"email":        String("Email address."),
			"phone":        String("Phone number in E.164."),
			"company_name": String("Company."),
			"website":      String("Company website."),
			"tags":         StringArray("Tags to apply."),
		}, "first_name")),
		Handler: Bind(c.CreateContact),
	})
	r.MustRegister(Tool{
		Spec: spec(SearchContacts, "Search CRM contacts by name, email or phone.", Object(map[string]any{
			"query": String("Free-text query."),
			"limit": Integer("Maximum results, up to 100."),
		}, "query")),
		Handler: Bind(c.SearchContacts),
	})
	r.MustRegister(Tool{
		Spec: spec(CreateUser, "Create a user with access to the account.", Object(map[string]any{
			"first_name": String("First name."),
			"last_name":  String("Last name."),
			"email":      String("Login email."),
			"password":   String("Initial password."),
			"phone":      String("Phone number."),
			"role":       String("admin or user."),
		}, "first_name", "last_name", "email", "password")),
		Handler: Bind(c.CreateUser),
	})
	r.MustRegister(Tool{
		Spec: spec(CreateSubAccount, "Create a sub-account (location) for a new client business.", Object(map[string]any{
			"name":        String("Business name."),
			"email":       String("Business email."),
			"phone":       String("Business phone."),
			"address":     String("Street address."),
			"city":        String("City."),
			"state":       String("State or region."),
			"country":     String("Two-letter country code."),
			"postal_code": String("Postal code."),
			"website":     String("Business website."),
			"timezone":    String("IANA timezone."),
		}, "name")),
		Handler: Bind(c.CreateSubAccount),
	})
}

func spec(name, desc string, params map[string]any) llm.ToolSpec {
	return llm.ToolSpec{Name: name, Description: desc, Parameters: params}
}
