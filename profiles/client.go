// Package profiles looks up user accounts in the user-profile service.
// The archive worker uses the tier classification to decide whether a
// completed job is eligible for cold-tier archival.
package profiles

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/rest"
)

const defaultHTTPTimeout = 6500 * time.Millisecond

// Tier classifications returned by the profile service. Only standard
// tier users have their results archived; premium users keep results in
// hot storage.
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

var Logger *log.Logger

func init() {
	Logger = log.New(os.Stderr, "", log.LstdFlags)
}

var httpClient = &http.Client{Timeout: defaultHTTPTimeout}

// A Profile describes one user account.
type Profile struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Tier   string `json:"tier"`
}

// Client is an API client for the user-profile service.
type Client struct {
	*rest.Client
}

// NewClient creates a new Client.
func NewClient(id, token, base string) *Client {
	return &Client{&rest.Client{
		Id:     id,
		Token:  token,
		Client: httpClient,
		Base:   base,
	}}
}

// Get fetches the profile for the given user.
func (c *Client) Get(userID string) (*Profile, error) {
	req, err := c.NewRequest("GET", fmt.Sprintf("/v1/users/%s", userID), nil)
	if err != nil {
		return nil, err
	}
	p := new(Profile)
	if err := c.Do(req, p); err != nil {
		return nil, err
	}
	return p, nil
}
