// Package gcal connects lawyers' Google calendars: their busy time feeds
// availability, and confirmed appointments are written back as events.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hackgods/lawyer-scheduling/internal/appointment"
	"github.com/hackgods/lawyer-scheduling/internal/busytime"
)

const primaryCalendar = "primary"

type Client struct {
	oauth *oauth2.Config
	store TokenStore
	log   *zap.Logger

	// clientOptions builds the API options for one lawyer.
	clientOptions func(ts oauth2.TokenSource) []option.ClientOption
}

func NewClient(clientID, clientSecret string, store TokenStore, log *zap.Logger) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
		},
		store: store,
		log:   log.Named("gcal"),
		clientOptions: func(ts oauth2.TokenSource) []option.ClientOption {
			return []option.ClientOption{option.WithTokenSource(ts)}
		},
	}
}

// AuthCodeURL is where a lawyer grants calendar access. Offline access
// yields the refresh token the feed needs.
func (c *Client) AuthCodeURL(state, redirectURL string) string {
	cfg := *c.oauth
	cfg.RedirectURL = redirectURL
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges an authorization code and stores the resulting token.
func (c *Client) Connect(ctx context.Context, lawyerID, code, redirectURL string) error {
	cfg := *c.oauth
	cfg.RedirectURL = redirectURL

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := c.store.SaveToken(ctx, lawyerID, tok); err != nil {
		return err
	}

	c.log.Info("calendar connected", zap.String("lawyer_id", lawyerID))
	return nil
}

// serviceFor returns a calendar client authorized as lawyerID, or
// ErrNotConnected.
func (c *Client) serviceFor(ctx context.Context, lawyerID string) (*calendar.Service, error) {
	tok, err := c.store.Token(ctx, lawyerID)
	if err != nil {
		return nil, err
	}

	ts := oauth2.ReuseTokenSource(tok, &persistingSource{
		ctx:      context.WithoutCancel(ctx),
		base:     c.oauth.TokenSource(ctx, tok),
		store:    c.store,
		lawyerID: lawyerID,
		last:     tok.AccessToken,
	})

	svc, err := calendar.NewService(ctx, c.clientOptions(ts)...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return svc, nil
}

// ListBusyBlocks implements busytime.Feed with the free/busy API. Lawyers
// without a connected calendar have no busy time.
func (c *Client) ListBusyBlocks(ctx context.Context, lawyerID string, from, to time.Time) ([]busytime.Block, error) {
	svc, err := c.serviceFor(ctx, lawyerID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, nil
		}
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: primaryCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}

	cal, ok := resp.Calendars[primaryCalendar]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("query free/busy: %s", cal.Errors[0].Reason)
	}

	blocks := make([]busytime.Block, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			c.log.Warn("skipping busy period with bad start", zap.String("start", p.Start), zap.Error(err))
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			c.log.Warn("skipping busy period with bad end", zap.String("end", p.End), zap.Error(err))
			continue
		}
		blocks = append(blocks, busytime.Block{Start: start, End: end})
	}
	return blocks, nil
}

// SyncHook writes confirmed appointments to the lawyer's calendar.
type SyncHook struct {
	client *Client
}

func (c *Client) SyncHook() *SyncHook {
	return &SyncHook{client: c}
}

func (h *SyncHook) Name() string { return "google-calendar" }

// OnConfirmed inserts the event. The event id is derived from the
// appointment id so a retried insert is a no-op.
func (h *SyncHook) OnConfirmed(ctx context.Context, a appointment.Appointment) error {
	svc, err := h.client.serviceFor(ctx, a.LawyerID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}

	_, err = svc.Events.Insert(primaryCalendar, eventFor(a)).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("insert calendar event: %w", err)
	}

	h.client.log.Info("appointment synced to calendar",
		zap.String("appointment_id", a.ID.String()),
		zap.String("lawyer_id", a.LawyerID),
	)
	return nil
}

// OnCancelled removes the event written by OnConfirmed. Requests cancelled
// while still PENDING were never synced and are skipped. An event that is
// already gone counts as removed.
func (h *SyncHook) OnCancelled(ctx context.Context, a appointment.Appointment, previous appointment.AppointmentStatus) error {
	if previous != appointment.StatusConfirmed {
		return nil
	}

	svc, err := h.client.serviceFor(ctx, a.LawyerID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}

	err = svc.Events.Delete(primaryCalendar, eventID(a)).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("delete calendar event: %w", err)
	}

	h.client.log.Info("appointment removed from calendar",
		zap.String("appointment_id", a.ID.String()),
		zap.String("lawyer_id", a.LawyerID),
	)
	return nil
}

func eventID(a appointment.Appointment) string {
	return strings.ReplaceAll(a.ID.String(), "-", "")
}

func eventFor(a appointment.Appointment) *calendar.Event {
	who := a.ClientName
	if who == "" {
		who = a.ClientID
	}

	desc := "Consultation type: " + string(a.Type)
	if a.Notes != "" {
		desc += "\n\n" + a.Notes
	}

	return &calendar.Event{
		Id:          eventID(a),
		Summary:     "Consultation with " + who,
		Description: desc,
		Start:       &calendar.EventDateTime{DateTime: a.Date.UTC().Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: a.End().UTC().Format(time.RFC3339)},
	}
}
