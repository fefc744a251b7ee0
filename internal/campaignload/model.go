package campaignload

import (
	"fmt"
	"slices"
	"time"

	"github.com/OpenAds/loader/internal/tiktok"
)

// maxAds caps a single load; extra ads are dropped before validation.
const maxAds = 100

// Load is a campaign load request: one campaign with one ad group and its ads,
// created in every listed advertiser account.
type Load struct {
	Name        string   `json:"name,omitempty"`
	Advertisers []string `json:"advertisers" validate:"required,min=1,dive,required"`
	Campaign    Campaign `json:"campaign"`
	AdGroup     AdGroup  `json:"adGroup"`
	Ads         []Ad     `json:"ads" validate:"required,min=1,dive"`
}

type Campaign struct {
	Name       string            `json:"name"`
	Objective  tiktok.Objective  `json:"objective" validate:"required,oneof=TRAFFIC CONVERSIONS"`
	Budget     float64           `json:"budget,omitempty" validate:"gte=0"`
	BudgetMode tiktok.BudgetMode `json:"budgetMode,omitempty"`
}

type AdGroup struct {
	Name                 string                  `json:"name"`
	Age                  []string                `json:"age,omitempty"`
	Gender               string                  `json:"gender,omitempty"`
	Location             []string                `json:"location" validate:"required,min=1"`
	Languages            []string                `json:"languages,omitempty"`
	OptimizationGoal     tiktok.OptimizationGoal `json:"optimizationGoal" validate:"required,oneof=CLICK CONVERT"`
	Bid                  float64                 `json:"bid,omitempty" validate:"gte=0"`
	ConversionBid        float64                 `json:"conversionBid,omitempty" validate:"gte=0"`
	BidType              tiktok.BidType          `json:"bidType" validate:"required,oneof=BID_TYPE_CUSTOM BID_TYPE_NO_BID"`
	BillingEvent         tiktok.BillingEvent     `json:"billingEvent,omitempty"`
	Budget               float64                 `json:"budget,omitempty" validate:"gte=0"`
	BudgetMode           tiktok.BudgetMode       `json:"budgetMode,omitempty"`
	Placement            []string                `json:"placement,omitempty"`
	PlacementType        string                  `json:"placementType,omitempty"`
	CreativeMaterialMode string                  `json:"creativeMaterialMode,omitempty"`
	PromotedObjectType   string                  `json:"promotedObjectType,omitempty"`
	SkipLearningPhase    bool                    `json:"skipLearningPhase,omitempty"`
	IsCommentDisable     bool                    `json:"isCommentDisable,omitempty"`
	Pacing               string                  `json:"pacing,omitempty"`
	ScheduleType         string                  `json:"scheduleType,omitempty"`
	VideoDownload        string                  `json:"videoDownload,omitempty"`
}

type Ad struct {
	Name           string `json:"name"`
	Title          string `json:"title" validate:"required"`
	Text           string `json:"text" validate:"required"`
	Format         string `json:"format,omitempty"`
	Creative       string `json:"creative"`
	ProfileImage   string `json:"profileImage,omitempty"`
	LandingPageURL string `json:"landingPageUrl" validate:"required,http_url"`
	CallToAction   string `json:"callToAction" validate:"required"`
}

// Payload is the runtime input that travels with a load but is not part of
// the persisted request.
type Payload struct {
	TenantID    string
	Credentials map[string]tiktok.Credentials
}

// normalize fills the defaults of an incoming load. defaultBudget applies to
// the ad group when no budget was given.
func (l *Load) normalize(now time.Time, defaultBudget float64) {
	stamp := now.Format("20060102150405")

	if len(l.Ads) > maxAds {
		l.Ads = l.Ads[:maxAds]
	}
	if l.Campaign.Name == "" {
		l.Campaign.Name = "Campaign " + stamp
	}
	if l.Name == "" {
		l.Name = l.Campaign.Name
	}

	g := &l.AdGroup
	if g.Name == "" {
		g.Name = fmt.Sprintf("Ad group #%d", now.UnixMilli())
	}
	if g.Gender == "" {
		g.Gender = tiktok.GenderUnlimited
	}
	if g.Budget <= 0 {
		g.Budget = defaultBudget
	}
	if g.BudgetMode == "" {
		g.BudgetMode = tiktok.BudgetModeDay
	}
	if g.BillingEvent == "" {
		g.BillingEvent = tiktok.BillingCPC
		if g.OptimizationGoal == tiktok.OptimizeConversion {
			g.BillingEvent = tiktok.BillingOCPM
		}
	}
	if len(g.Placement) == 0 {
		g.Placement = []string{tiktok.PlacementTikTok}
	}
	if g.PlacementType == "" {
		g.PlacementType = tiktok.PlacementTypeNormal
	}
	if g.CreativeMaterialMode == "" {
		g.CreativeMaterialMode = tiktok.CreativeModeCustom
	}
	if g.PromotedObjectType == "" {
		g.PromotedObjectType = tiktok.ExternalTypeWebsite
	}
	if g.Pacing == "" {
		g.Pacing = tiktok.PacingSmooth
	}
	if g.ScheduleType == "" {
		g.ScheduleType = tiktok.ScheduleStartEnd
	}
	if g.VideoDownload == "" {
		g.VideoDownload = tiktok.VideoDownloadPrevented
	}

	for i := range l.Ads {
		if l.Ads[i].Name == "" {
			l.Ads[i].Name = fmt.Sprintf("Creative %s-%d", stamp, i+1)
		}
		if l.Ads[i].Format == "" {
			l.Ads[i].Format = tiktok.AdFormatSingleVideo
		}
	}
}

// restrict returns a copy of the load limited to the given advertisers.
func (l Load) restrict(advertisers []string) Load {
	out := l
	out.Advertisers = slices.Clone(advertisers)
	out.Ads = slices.Clone(l.Ads)
	return out
}

func (l Load) conversions() bool {
	return l.Campaign.Objective == tiktok.ObjectiveConversions
}
