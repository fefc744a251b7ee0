package tiktok

type Objective string

const (
	ObjectiveTraffic     Objective = "TRAFFIC"
	ObjectiveConversions Objective = "CONVERSIONS"
)

type BudgetMode string

const (
	BudgetModeInfinite BudgetMode = "BUDGET_MODE_INFINITE"
	BudgetModeDay      BudgetMode = "BUDGET_MODE_DAY"
	BudgetModeTotal    BudgetMode = "BUDGET_MODE_TOTAL"
)

type UploadType string

const (
	UploadByURL  UploadType = "UPLOAD_BY_URL"
	UploadByFile UploadType = "UPLOAD_BY_FILE"
)

type OptimizationGoal string

const (
	OptimizeClick      OptimizationGoal = "CLICK"
	OptimizeConversion OptimizationGoal = "CONVERT"
)

type BillingEvent string

const (
	BillingCPC  BillingEvent = "CPC"
	BillingOCPM BillingEvent = "OCPM"
)

type BidType string

const (
	BidTypeCustom BidType = "BID_TYPE_CUSTOM"
	BidTypeNoBid  BidType = "BID_TYPE_NO_BID"
)

const (
	PlacementTikTok        = "PLACEMENT_TIKTOK"
	PlacementTypeNormal    = "PLACEMENT_TYPE_NORMAL"
	CreativeModeCustom     = "CUSTOM"
	ExternalTypeWebsite    = "WEBSITE"
	AdFormatSingleVideo    = "SINGLE_VIDEO"
	PacingSmooth           = "PACING_MODE_SMOOTH"
	ScheduleFromNow        = "SCHEDULE_FROM_NOW"
	ScheduleStartEnd       = "SCHEDULE_START_END"
	VideoDownloadPrevented = "PREVENT_DOWNLOAD"
	VideoDownloadAllowed   = "ALLOW_DOWNLOAD"
	GenderUnlimited        = "GENDER_UNLIMITED"
)
