// Package conferencing talks to the meetings service that hosts remote
// sessions. The order lifecycle only needs teardown: when an on-demand
// audio/video order is cancelled, its external meeting is deleted.
package conferencing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// MeetingDeleter tears down external meetings.
type MeetingDeleter interface {
	DeleteMeeting(ctx context.Context, cfg *domain.MeetingConfiguration) error
}

// ErrNoMeetingID is returned when a configuration has no external meeting.
var ErrNoMeetingID = errors.New("meeting configuration has no external meeting id")

// Client is a MeetingDeleter over the meetings HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for baseURL. apiKey, when set, is sent as a
// bearer token.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &Client{http: rc}
}

// DeleteMeeting deletes the external meeting referenced by cfg. A meeting
// that is already gone counts as deleted.
func (c *Client) DeleteMeeting(ctx context.Context, cfg *domain.MeetingConfiguration) error {
	if cfg == nil || cfg.ExternalMeetingID == nil || *cfg.ExternalMeetingID == "" {
		return ErrNoMeetingID
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", *cfg.ExternalMeetingID).
		Delete("/meetings/{id}")
	if err != nil {
		return fmt.Errorf("delete meeting %s: %w", *cfg.ExternalMeetingID, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil
	case code >= 200 && code < 300:
		return nil
	default:
		return fmt.Errorf("delete meeting %s: unexpected status %d", *cfg.ExternalMeetingID, code)
	}
}
