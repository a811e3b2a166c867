package config

const (
	PathHealthCheck = "/"
	PathLogIn       = "/log_in"
	PathLogOut      = "/log_out"

	PathCreateTenant = "/create_tenant"
	PathCreateUser   = "/create_user"

	PathCreateLead = "/create_lead"
	PathUpdateLead = "/update_lead"
	PathGetLead    = "/get_lead"
	PathGetLeads   = "/get_leads"

	PathCreateTemplate = "/create_template"
	PathUpdateTemplate = "/update_template"
	PathGetTemplates   = "/get_templates"

	PathCreateEmailConfig = "/create_email_config"
	PathUpdateEmailConfig = "/update_email_config"
	PathGetEmailConfigs   = "/get_email_configs"
	PathSendTestEmail     = "/send_test_email"

	PathCreateCampaign   = "/create_campaign"
	PathUpdateCampaign   = "/update_campaign"
	PathGetCampaign      = "/get_campaign"
	PathGetCampaigns     = "/get_campaigns"
	PathScheduleCampaign = "/schedule_campaign"
	PathPauseCampaign    = "/pause_campaign"
	PathResumeCampaign   = "/resume_campaign"

	PathCreateSequence   = "/create_sequence"
	PathGetSequences     = "/get_sequences"
	PathEnrollLead       = "/enroll_lead"
	PathCancelEnrollment = "/cancel_enrollment"
	PathGetEnrollments   = "/get_enrollments"

	PathQuickSend = "/quick_send"

	// tracking routes, mounted under /track
	PathTrackOpen  = "/open/{token}"
	PathTrackClick = "/click/{token}"
)

const (
	DefaultPort   = 9090
	LogLevelDebug = "DEBUG"
)

var (
	EmptyJson = []byte("{}")
)
