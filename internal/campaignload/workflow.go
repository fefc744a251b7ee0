package campaignload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/task"
	"github.com/OpenAds/loader/internal/tiktok"
)

const scheduleLayout = "2006-01-02 15:04:05"

var (
	errNoCredentials = errors.New("no credentials for advertiser")
	errNoAccess      = errors.New("no access to advertiser account")
	errPixelRule     = errors.New("advertiser must have exactly 1 pixel with exactly 1 event")
	errNoCreative    = errors.New("no video creative, ad skipped")
	errNoVideo       = errors.New("video creative was not uploaded")
	errNoCover       = errors.New("no cover candidates returned")
	errMediaMissing  = errors.New("video creative or cover is missing")
	errNoAds         = errors.New("no ads with a video creative")
)

// Platform is the part of the ads platform API a campaign load uses.
type Platform interface {
	AdvertiserInfo(ctx context.Context, creds tiktok.Credentials, advertiserIDs []string) ([]tiktok.Advertiser, error)
	PixelList(ctx context.Context, creds tiktok.Credentials, advertiserID string) ([]tiktok.Pixel, error)
	UploadImageByURL(ctx context.Context, creds tiktok.Credentials, req tiktok.ImageUploadRequest) (tiktok.ID, error)
	UploadVideoByURL(ctx context.Context, creds tiktok.Credentials, req tiktok.VideoUploadRequest) (tiktok.UploadedVideo, error)
	SuggestCovers(ctx context.Context, creds tiktok.Credentials, advertiserID string, videoID tiktok.ID, count int) ([]tiktok.Cover, error)
	CreateCampaign(ctx context.Context, creds tiktok.Credentials, req tiktok.CampaignCreateRequest) (tiktok.ID, error)
	CreateAdGroup(ctx context.Context, creds tiktok.Credentials, req tiktok.AdGroupCreateRequest) (tiktok.ID, error)
	CreateAds(ctx context.Context, creds tiktok.Credentials, req tiktok.AdCreateRequest) ([]tiktok.ID, error)
}

// MediaResolver turns media library ids into URLs the platform can fetch.
type MediaResolver interface {
	ProfileImageURL(ctx context.Context, tenantID, id string) (string, error)
	VideoCreativeURL(ctx context.Context, tenantID, id string) (string, error)
}

// Converter converts base-currency amounts into an account's currency.
type Converter interface {
	Convert(amount float64, currency string) (float64, error)
}

// Workflow is the campaign load runner. Advertisers are processed one after
// another; every advertiser adds one step of success or failure progress.
type Workflow struct {
	platform  Platform
	media     MediaResolver
	converter Converter
	cfg       config.WorkflowConfig
	now       func() time.Time
}

func NewWorkflow(platform Platform, media MediaResolver, converter Converter, cfg config.WorkflowConfig) *Workflow {
	return &Workflow{
		platform:  platform,
		media:     media,
		converter: converter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// conversionTarget is the pixel a conversions load reports to.
type conversionTarget struct {
	pixelID        tiktok.ID
	code           string
	externalAction string
}

// adMedia holds the platform ids uploaded for one ad.
type adMedia struct {
	skip         bool
	profileImage tiktok.ID
	video        tiktok.ID
	cover        tiktok.ID
}

// advertiserRun carries the per-advertiser state through the steps.
type advertiserRun struct {
	load         Load
	tenantID     string
	advertiserID string
	creds        tiktok.Credentials
	currency     string
	pixel        *conversionTarget
	// previews maps a creative id to a platform-hosted copy of the video.
	previews map[string]string
}

func (w *Workflow) Run(ctx context.Context, t *task.Task) {
	load, ok := t.Model().(Load)
	payload, payloadOK := t.Payload().(Payload)
	if !ok || !payloadOK {
		slog.ErrorContext(ctx, "campaign load has unexpected input", "taskName", t.Name())
		index := t.LogStartSubtask("Read campaign load", false)
		t.LogUpdateSubtask(index, false, "invalid task input")
		for range t.StepCount() {
			t.AddFailureProgress()
		}
		return
	}

	previews := make(map[string]string)
	var failed []string
	for _, advertiserID := range load.Advertisers {
		run := &advertiserRun{
			load:         load,
			tenantID:     payload.TenantID,
			advertiserID: advertiserID,
			previews:     previews,
		}
		if w.loadAdvertiser(ctx, t, run, payload.Credentials) {
			t.AddSuccessProgress()
			continue
		}
		t.AddFailureProgress()
		failed = append(failed, advertiserID)
	}

	if len(failed) > 0 {
		t.SetRetryModel(load.restrict(failed))
	}
	slog.InfoContext(ctx, "campaign load finished",
		"taskName", t.Name(), "tenantID", payload.TenantID,
		"advertisers", len(load.Advertisers), "failed", len(failed))
}

func (w *Workflow) loadAdvertiser(ctx context.Context, t *task.Task, run *advertiserRun, credentials map[string]tiktok.Credentials) bool {
	index := t.LogStartSubtask("Load to advertiser "+run.advertiserID, false)

	err := w.runAdvertiser(ctx, t, run, credentials)
	if err != nil {
		slog.WarnContext(ctx, "advertiser load failed",
			"taskName", t.Name(), "advertiserID", run.advertiserID, "error", err)
		t.LogUpdateSubtask(index, false, err.Error())
		return false
	}

	t.LogUpdateSubtask(index, true, "")
	return true
}

func (w *Workflow) runAdvertiser(ctx context.Context, t *task.Task, run *advertiserRun, credentials map[string]tiktok.Credentials) error {
	creds, ok := credentials[run.advertiserID]
	if !ok {
		return errNoCredentials
	}
	run.creds = creds

	info, err := w.platform.AdvertiserInfo(ctx, creds, []string{run.advertiserID})
	if err != nil {
		return fmt.Errorf("%w: %v", errNoAccess, err)
	}
	if len(info) == 0 {
		return errNoAccess
	}
	run.currency = strings.ToUpper(info[0].Currency)
	t.LogStartSubtask("Account currency "+run.currency, true)

	if run.load.conversions() {
		pixel, err := w.checkPixel(ctx, t, run)
		if err != nil {
			return err
		}
		run.pixel = &pixel
	}

	media := make([]adMedia, len(run.load.Ads))
	for i, ad := range run.load.Ads {
		media[i] = w.prepareAd(ctx, t, run, ad, i+1)
	}

	campaignID, err := step(t, "Create campaign", func() (tiktok.ID, error) {
		return w.createCampaign(ctx, run)
	})
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}

	adGroupID, err := step(t, "Create ad group", func() (tiktok.ID, error) {
		return w.createAdGroup(ctx, run, campaignID)
	})
	if err != nil {
		return fmt.Errorf("create ad group: %w", err)
	}

	_, err = step(t, "Create ads", func() ([]tiktok.ID, error) {
		return w.createAds(ctx, run, adGroupID, media)
	})
	if err != nil {
		return fmt.Errorf("create ads: %w", err)
	}
	return nil
}

// step runs op as one subtask log entry.
func step[T any](t *task.Task, description string, op func() (T, error)) (T, error) {
	index := t.LogStartSubtask(description, false)
	value, err := op()
	resolve(t, index, err)
	return value, err
}

func resolve(t *task.Task, index int, err error) {
	if err != nil {
		t.LogUpdateSubtask(index, false, err.Error())
		return
	}
	t.LogUpdateSubtask(index, true, "")
}

func (w *Workflow) checkPixel(ctx context.Context, t *task.Task, run *advertiserRun) (conversionTarget, error) {
	return step(t, "Check for 1 pixel with 1 event", func() (conversionTarget, error) {
		pixels, err := w.platform.PixelList(ctx, run.creds, run.advertiserID)
		if err != nil {
			return conversionTarget{}, err
		}
		if len(pixels) != 1 {
			return conversionTarget{}, fmt.Errorf("%w: found %d pixels", errPixelRule, len(pixels))
		}
		if len(pixels[0].Events) != 1 {
			return conversionTarget{}, fmt.Errorf("%w: found %d events", errPixelRule, len(pixels[0].Events))
		}
		return conversionTarget{
			pixelID:        pixels[0].ID,
			code:           pixels[0].Code,
			externalAction: pixels[0].Events[0].ExternalAction,
		}, nil
	})
}

// prepareAd uploads the media of one ad. Failures are recorded in the log
// and never abort the advertiser.
func (w *Workflow) prepareAd(ctx context.Context, t *task.Task, run *advertiserRun, ad Ad, position int) adMedia {
	index := t.LogStartSubtask(fmt.Sprintf("Upload media for ad %q (%d/%d)", ad.Name, position, len(run.load.Ads)), false)
	if ad.Creative == "" {
		t.LogUpdateSubtask(index, false, errNoCreative.Error())
		return adMedia{skip: true}
	}

	var media adMedia
	if ad.ProfileImage != "" {
		media.profileImage = w.uploadProfileImage(ctx, t, run, ad)
	}
	media.video = w.uploadVideo(ctx, t, run, ad)
	media.cover = w.selectCover(ctx, t, run, media.video)

	if media.video == "" || media.cover == "" {
		t.LogUpdateSubtask(index, false, errMediaMissing.Error())
	} else {
		t.LogUpdateSubtask(index, true, "")
	}
	return media
}

func (w *Workflow) uploadProfileImage(ctx context.Context, t *task.Task, run *advertiserRun, ad Ad) tiktok.ID {
	index := t.LogStartSubtask("Upload profile image", false)
	out := task.Attempt(ctx, task.Policy{MaxAttempts: 3}, func(ctx context.Context, _ int) (tiktok.ID, error) {
		imageURL, err := w.media.ProfileImageURL(ctx, run.tenantID, ad.ProfileImage)
		if err != nil {
			return "", task.Permanent(err)
		}
		return w.platform.UploadImageByURL(ctx, run.creds, tiktok.ImageUploadRequest{
			AdvertiserID: run.advertiserID,
			UploadType:   tiktok.UploadByURL,
			FileName:     fmt.Sprintf("Profile_Image_%d.jpg", w.now().UnixMilli()),
			ImageURL:     imageURL,
		})
	})
	resolve(t, index, out.Err)
	return out.Value
}

// uploadVideo tries a platform-hosted copy of the creative first when an
// earlier advertiser produced one, then the media library URL.
func (w *Workflow) uploadVideo(ctx context.Context, t *task.Task, run *advertiserRun, ad Ad) tiktok.ID {
	index := t.LogStartSubtask("Upload video creative", false)

	var libraryURL string
	out := task.Attempt(ctx, task.Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) (tiktok.UploadedVideo, error) {
		source := run.previews[ad.Creative]
		if attempt > 1 || source == "" {
			if libraryURL == "" {
				resolved, err := w.media.VideoCreativeURL(ctx, run.tenantID, ad.Creative)
				if err != nil {
					return tiktok.UploadedVideo{}, task.Permanent(err)
				}
				libraryURL = resolved
			}
			source = libraryURL
		}
		return w.platform.UploadVideoByURL(ctx, run.creds, tiktok.VideoUploadRequest{
			AdvertiserID: run.advertiserID,
			UploadType:   tiktok.UploadByURL,
			FileName:     fmt.Sprintf("Video_Creative_%d.mp4", w.now().UnixMilli()),
			VideoURL:     source,
		})
	})
	resolve(t, index, out.Err)
	if out.Err != nil {
		return ""
	}

	if out.Value.URL != "" {
		run.previews[ad.Creative] = out.Value.URL
	}
	return out.Value.ID
}

func (w *Workflow) selectCover(ctx context.Context, t *task.Task, run *advertiserRun, videoID tiktok.ID) tiktok.ID {
	index := t.LogStartSubtask("Select video cover", false)
	if videoID == "" {
		resolve(t, index, errNoVideo)
		return ""
	}

	policy := task.Policy{MaxAttempts: 5, Delay: w.cfg.CoverDelay, DelayFirst: true}
	out := task.Attempt(ctx, policy, func(ctx context.Context, _ int) (tiktok.ID, error) {
		covers, err := w.platform.SuggestCovers(ctx, run.creds, run.advertiserID, videoID, 1)
		if err != nil {
			return "", err
		}
		if len(covers) == 0 {
			return "", errNoCover
		}
		return covers[0].ID, nil
	})
	resolve(t, index, out.Err)
	return out.Value
}

func (w *Workflow) createCampaign(ctx context.Context, run *advertiserRun) (tiktok.ID, error) {
	c := run.load.Campaign
	req := tiktok.CampaignCreateRequest{
		AdvertiserID: run.advertiserID,
		Name:         c.Name,
		Objective:    c.Objective,
		BudgetMode:   tiktok.BudgetModeInfinite,
	}
	if c.BudgetMode != "" && c.BudgetMode != tiktok.BudgetModeInfinite {
		budget, err := w.converter.Convert(c.Budget, run.currency)
		if err != nil {
			return "", err
		}
		req.BudgetMode = c.BudgetMode
		req.Budget = budget
	}
	return w.platform.CreateCampaign(ctx, run.creds, req)
}

func (w *Workflow) createAdGroup(ctx context.Context, run *advertiserRun, campaignID tiktok.ID) (tiktok.ID, error) {
	g := run.load.AdGroup

	amounts := []float64{g.Bid, g.ConversionBid, g.Budget}
	for i, amount := range amounts {
		converted, err := w.converter.Convert(amount, run.currency)
		if err != nil {
			return "", err
		}
		amounts[i] = converted
	}

	start := w.now()
	req := tiktok.AdGroupCreateRequest{
		AdvertiserID:         run.advertiserID,
		CampaignID:           campaignID,
		Name:                 g.Name,
		Placement:            g.Placement,
		PlacementType:        g.PlacementType,
		Age:                  g.Age,
		Gender:               g.Gender,
		Location:             g.Location,
		Languages:            g.Languages,
		Bid:                  amounts[0],
		ConversionBid:        amounts[1],
		BidType:              g.BidType,
		BudgetMode:           g.BudgetMode,
		Budget:               amounts[2],
		BillingEvent:         g.BillingEvent,
		CreativeMaterialMode: g.CreativeMaterialMode,
		ExternalType:         g.PromotedObjectType,
		OptimizeGoal:         g.OptimizationGoal,
		SkipLearningPhase:    g.SkipLearningPhase,
		IsCommentDisable:     g.IsCommentDisable,
		Pacing:               g.Pacing,
		ScheduleType:         g.ScheduleType,
		ScheduleStartTime:    start.Format(scheduleLayout),
		ScheduleEndTime:      start.AddDate(w.cfg.ScheduleYears, 0, 0).Format(scheduleLayout),
		VideoDownload:        g.VideoDownload,
	}
	if run.pixel != nil {
		req.PixelID = run.pixel.pixelID
		req.ExternalAction = run.pixel.externalAction
	}
	return w.platform.CreateAdGroup(ctx, run.creds, req)
}

func (w *Workflow) createAds(ctx context.Context, run *advertiserRun, adGroupID tiktok.ID, media []adMedia) ([]tiktok.ID, error) {
	creatives := make([]tiktok.AdCreative, 0, len(run.load.Ads))
	for i, ad := range run.load.Ads {
		m := media[i]
		if m.skip {
			continue
		}

		landing := ad.LandingPageURL
		if run.pixel != nil {
			landing = withPixel(landing, run.pixel.code)
		}

		creative := tiktok.AdCreative{
			Name:             ad.Name,
			Text:             ad.Text,
			Format:           ad.Format,
			DisplayName:      ad.Title,
			AvatarIconWebURI: m.profileImage,
			CallToAction:     ad.CallToAction,
			LandingPageURL:   landing,
			VideoID:          m.video,
		}
		if m.cover != "" {
			creative.ImageIDs = []tiktok.ID{m.cover}
		}
		creatives = append(creatives, creative)
	}
	if len(creatives) == 0 {
		return nil, errNoAds
	}

	return w.platform.CreateAds(ctx, run.creds, tiktok.AdCreateRequest{
		AdvertiserID: run.advertiserID,
		AdGroupID:    adGroupID,
		Creatives:    creatives,
	})
}

// withPixel appends the pixel code to a landing page query.
func withPixel(landingURL, code string) string {
	u, err := url.Parse(landingURL)
	if err != nil {
		return landingURL
	}
	param := "pixel=" + url.QueryEscape(code)
	if u.RawQuery == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	return u.String()
}
