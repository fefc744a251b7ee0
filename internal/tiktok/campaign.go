package tiktok

import (
	"context"
	"fmt"
	"net/http"
)

const (
	endpointCampaignCreate = "/v1.2/campaign/create/"
	endpointAdGroupCreate  = "/v1.2/adgroup/create/"
	endpointAdCreate       = "/v1.2/ad/create/"
)

type CampaignCreateRequest struct {
	AdvertiserID string     `json:"advertiser_id"`
	Name         string     `json:"campaign_name"`
	Objective    Objective  `json:"objective_type"`
	BudgetMode   BudgetMode `json:"budget_mode"`
	Budget       float64    `json:"budget"`
}

type AdGroupCreateRequest struct {
	AdvertiserID         string           `json:"advertiser_id"`
	CampaignID           ID               `json:"campaign_id"`
	Name                 string           `json:"adgroup_name"`
	Placement            []string         `json:"placement,omitempty"`
	PlacementType        string           `json:"placement_type,omitempty"`
	Age                  []string         `json:"age,omitempty"`
	Gender               string           `json:"gender,omitempty"`
	Location             []string         `json:"location,omitempty"`
	Languages            []string         `json:"languages,omitempty"`
	Bid                  float64          `json:"bid,omitempty"`
	ConversionBid        float64          `json:"conversion_bid,omitempty"`
	BidType              BidType          `json:"bid_type,omitempty"`
	BudgetMode           BudgetMode       `json:"budget_mode"`
	Budget               float64          `json:"budget"`
	BillingEvent         BillingEvent     `json:"billing_event,omitempty"`
	CreativeMaterialMode string           `json:"creative_material_mode,omitempty"`
	ExternalType         string           `json:"external_type,omitempty"`
	OptimizeGoal         OptimizationGoal `json:"optimize_goal,omitempty"`
	SkipLearningPhase    bool             `json:"skip_learning_phase"`
	IsCommentDisable     bool             `json:"is_comment_disable"`
	Pacing               string           `json:"pacing,omitempty"`
	ScheduleType         string           `json:"schedule_type,omitempty"`
	ScheduleStartTime    string           `json:"schedule_start_time"`
	ScheduleEndTime      string           `json:"schedule_end_time"`
	VideoDownload        string           `json:"video_download,omitempty"`
	PixelID              ID               `json:"pixel_id,omitempty"`
	ExternalAction       string           `json:"external_action,omitempty"`
}

type AdCreative struct {
	Name             string `json:"ad_name"`
	Text             string `json:"ad_text"`
	Format           string `json:"ad_format"`
	DisplayName      string `json:"display_name"`
	AvatarIconWebURI ID     `json:"avatar_icon_web_uri,omitempty"`
	CallToAction     string `json:"call_to_action"`
	LandingPageURL   string `json:"landing_page_url"`
	VideoID          ID     `json:"video_id,omitempty"`
	ImageIDs         []ID   `json:"image_ids,omitempty"`
}

type AdCreateRequest struct {
	AdvertiserID string       `json:"advertiser_id"`
	AdGroupID    ID           `json:"adgroup_id"`
	Creatives    []AdCreative `json:"creatives"`
}

type campaignCreated struct {
	CampaignID ID `json:"campaign_id"`
}

type adGroupCreated struct {
	AdGroupID ID `json:"adgroup_id"`
}

type adsCreated struct {
	AdIDs []ID `json:"ad_ids"`
}

// CreateCampaign creates a campaign and returns its ID.
func (c *Client) CreateCampaign(ctx context.Context, creds Credentials, req CampaignCreateRequest) (ID, error) {
	var out campaignCreated
	if err := c.call(ctx, creds, http.MethodPost, endpointCampaignCreate, req, &out); err != nil {
		return "", err
	}
	if out.CampaignID == "" {
		return "", fmt.Errorf("%w: campaign create returned no campaign_id", ErrUnexpectedResponse)
	}
	return out.CampaignID, nil
}

// CreateAdGroup creates an ad group and returns its ID.
func (c *Client) CreateAdGroup(ctx context.Context, creds Credentials, req AdGroupCreateRequest) (ID, error) {
	var out adGroupCreated
	if err := c.call(ctx, creds, http.MethodPost, endpointAdGroupCreate, req, &out); err != nil {
		return "", err
	}
	if out.AdGroupID == "" {
		return "", fmt.Errorf("%w: ad group create returned no adgroup_id", ErrUnexpectedResponse)
	}
	return out.AdGroupID, nil
}

// CreateAds creates every creative under one ad group in a single request.
func (c *Client) CreateAds(ctx context.Context, creds Credentials, req AdCreateRequest) ([]ID, error) {
	var out adsCreated
	if err := c.call(ctx, creds, http.MethodPost, endpointAdCreate, req, &out); err != nil {
		return nil, err
	}
	return out.AdIDs, nil
}
