package sheets

// WorkbookSchema declares one workbook: its stable name, a human-readable
// description, and the sheets it must contain after bootstrap.
type WorkbookSchema struct {
	Name        string
	Description string
	Sheets      []SheetSchema
}

// SheetSchema declares one sheet: its name, the exact header row, and
// optional rows seeded into a freshly created (or data-empty) sheet.
type SheetSchema struct {
	Name        string
	Headers     []string
	InitialRows [][]string
}

// Workbook and sheet names referenced from code. The schema below is the
// canonical definition; these constants exist so call sites don't scatter
// string literals.
const (
	WorkbookCoreData         = "CORE_DATA"
	WorkbookConversationData = "CONVERSATION_DATA"
	WorkbookSecurityLogs     = "SECURITY_LOGS"
	WorkbookAnalyticsData    = "ANALYTICS_DATA"
	WorkbookPersonalityData  = "PERSONALITY_DATA"

	SheetSystemConfig = "System_Config"
	SheetAPIKeys      = "API_Keys"
	SheetUserProfiles = "User_Profiles"
	SheetMessages     = "Messages"
	SheetAccessLogs   = "Access_Logs"
	SheetBlockedUsers = "Blocked_Users"
	SheetDailyStats   = "Daily_Stats"
	SheetTraits       = "Traits"
)

// Schema is the canonical declaration of every workbook and sheet the bot
// persists to. Bootstrap creates anything missing and repairs header rows;
// nothing outside this list is ever touched.
var Schema = []WorkbookSchema{
	{
		Name:        "CORE_DATA",
		Description: "core system data: config, credentials, user registry",
		Sheets: []SheetSchema{
			{
				Name:    "System_Config",
				Headers: []string{"key", "value", "type", "description", "last_updated"},
				InitialRows: [][]string{
					{"bot_name", "Nazanin", "string", "display name used in prompts", ""},
					{"tone", "friendly", "string", "default conversational tone", ""},
					{"auto_backup", "true", "boolean", "periodic backup of hot sheets", ""},
					{"cache_enabled", "true", "boolean", "read cache for sheet data", ""},
				},
			},
			{Name: "API_Keys", Headers: []string{"provider", "key", "model", "priority", "status", "usage_count"}},
			{Name: "User_Profiles", Headers: []string{"user_id", "name", "platform", "first_seen", "last_seen", "message_count"}},
			{Name: "Platform_Credentials", Headers: []string{"platform", "credential_type", "value", "status", "expires_at"}},
			{Name: "System_Status", Headers: []string{"component", "status", "last_check", "uptime", "errors"}},
		},
	},
	{
		Name:        "CONVERSATION_DATA",
		Description: "every conversation turn and derived preferences",
		Sheets: []SheetSchema{
			{Name: "Messages", Headers: []string{"timestamp", "user_id", "platform", "message", "response", "sentiment", "context"}},
			{Name: "Conversations", Headers: []string{"conversation_id", "user_id", "start_time", "end_time", "message_count", "summary"}},
			{Name: "User_Preferences", Headers: []string{"user_id", "preference_key", "preference_value", "learned_from", "confidence"}},
			{Name: "Response_Templates", Headers: []string{"template_id", "category", "template_fa", "template_en", "usage_count", "success_rate"}},
			{Name: "Conversation_Patterns", Headers: []string{"pattern_id", "pattern_type", "description", "occurrences", "last_seen"}},
		},
	},
	{
		Name:        "KNOWLEDGE_BASE",
		Description: "general and domain knowledge",
		Sheets: []SheetSchema{
			{Name: "Facts", Headers: []string{"fact_id", "category", "fact", "source", "confidence", "last_verified"}},
			{Name: "Definitions", Headers: []string{"term", "definition_fa", "definition_en", "category", "examples"}},
			{Name: "FAQs", Headers: []string{"question", "answer", "category", "asked_count", "last_updated"}},
			{Name: "Tutorials", Headers: []string{"tutorial_id", "title", "category", "content", "difficulty", "views"}},
			{Name: "References", Headers: []string{"reference_id", "title", "url", "category", "reliability", "added_date"}},
			{Name: "Glossary", Headers: []string{"term_fa", "term_en", "definition", "related_terms", "category"}},
		},
	},
	{
		Name:        "LEARNING_DATA",
		Description: "feedback and continuous-improvement records",
		Sheets: []SheetSchema{
			{Name: "Training_Sessions", Headers: []string{"session_id", "date", "topic", "data_size", "accuracy", "notes"}},
			{Name: "Feedback", Headers: []string{"feedback_id", "timestamp", "user_id", "rating", "comment", "category"}},
			{Name: "Mistakes", Headers: []string{"mistake_id", "timestamp", "type", "description", "correction", "learned"}},
			{Name: "Performance_Metrics", Headers: []string{"date", "metric_name", "value", "target", "status", "notes"}},
			{Name: "Improvements", Headers: []string{"improvement_id", "date", "area", "change", "impact", "status"}},
		},
	},
	{
		Name:        "CONTENT_LIBRARY",
		Description: "generated and stored content",
		Sheets: []SheetSchema{
			{Name: "Posts", Headers: []string{"post_id", "platform", "content", "media_urls", "created_at", "published_at", "engagement"}},
			{Name: "Media_Files", Headers: []string{"file_id", "type", "url", "description", "tags", "uploaded_at"}},
			{Name: "Templates", Headers: []string{"template_id", "name", "category", "content", "variables", "usage_count"}},
			{Name: "Hashtags", Headers: []string{"hashtag", "category", "usage_count", "engagement_rate", "trend_score"}},
			{Name: "Content_Calendar", Headers: []string{"date", "time", "platform", "content_type", "topic", "status"}},
		},
	},
	{
		Name:        "ANALYTICS_DATA",
		Description: "usage analytics and statistics",
		Sheets: []SheetSchema{
			{Name: "Daily_Stats", Headers: []string{"date", "messages", "users", "responses", "avg_response_time", "satisfaction"}},
			{Name: "User_Behavior", Headers: []string{"user_id", "activity_type", "frequency", "peak_hours", "preferences"}},
			{Name: "Engagement_Metrics", Headers: []string{"date", "platform", "likes", "comments", "shares", "reach", "impressions"}},
			{Name: "Trend_Analysis", Headers: []string{"trend_id", "topic", "start_date", "peak_date", "volume", "sentiment"}},
			{Name: "Performance_Reports", Headers: []string{"report_id", "period", "metric", "value", "comparison", "insights"}},
		},
	},
	{
		Name:        "MEMORY_SYSTEM",
		Description: "short- and long-term memory entries",
		Sheets: []SheetSchema{
			{Name: "Short_Term_Memory", Headers: []string{"memory_id", "timestamp", "content", "context", "importance", "expires_at"}},
			{Name: "Long_Term_Memory", Headers: []string{"memory_id", "date_stored", "content", "category", "access_count", "last_accessed"}},
			{Name: "Episodic_Memory", Headers: []string{"episode_id", "date", "event", "participants", "emotions", "outcome"}},
			{Name: "Semantic_Memory", Headers: []string{"concept_id", "concept", "definition", "relations", "confidence"}},
			{Name: "Working_Memory", Headers: []string{"task_id", "current_task", "context", "variables", "status"}},
		},
	},
	{
		Name:        "PERSONALITY_DATA",
		Description: "personality traits and behavior records",
		Sheets: []SheetSchema{
			{
				Name:    "Traits",
				Headers: []string{"trait_name", "value", "min", "max", "last_updated", "influencers"},
				InitialRows: [][]string{
					{"curiosity", "70", "0", "100", "", ""},
					{"patience", "80", "0", "100", "", ""},
					{"humor", "60", "0", "100", "", ""},
				},
			},
			{Name: "Emotions", Headers: []string{"timestamp", "emotion", "intensity", "trigger", "duration", "response"}},
			{Name: "Moods", Headers: []string{"date", "time", "mood", "factors", "activities", "social_interactions"}},
			{Name: "Behaviors", Headers: []string{"behavior_id", "behavior_type", "frequency", "context", "outcome"}},
			{Name: "Values", Headers: []string{"value_name", "importance", "description", "manifestations", "conflicts"}},
		},
	},
	{
		Name:        "TASK_MANAGEMENT",
		Description: "tasks, schedules, and goals",
		Sheets: []SheetSchema{
			{Name: "Tasks", Headers: []string{"task_id", "title", "description", "priority", "status", "deadline", "assigned_to"}},
			{Name: "Schedules", Headers: []string{"schedule_id", "task", "frequency", "next_run", "last_run", "status"}},
			{Name: "Goals", Headers: []string{"goal_id", "goal", "category", "target_date", "progress", "status"}},
			{Name: "Projects", Headers: []string{"project_id", "name", "description", "start_date", "end_date", "progress"}},
			{Name: "Reminders", Headers: []string{"reminder_id", "title", "datetime", "repeat", "sent", "user_id"}},
		},
	},
	{
		Name:        "SOCIAL_DATA",
		Description: "social graph and community records",
		Sheets: []SheetSchema{
			{Name: "Relationships", Headers: []string{"user1_id", "user2_id", "relationship_type", "strength", "interactions", "last_contact"}},
			{Name: "Communities", Headers: []string{"community_id", "name", "platform", "members", "activity_level", "topics"}},
			{Name: "Influencers", Headers: []string{"influencer_id", "name", "platform", "followers", "engagement_rate", "niche"}},
			{Name: "Social_Events", Headers: []string{"event_id", "title", "date", "participants", "outcome", "insights"}},
			{Name: "Network_Analysis", Headers: []string{"date", "metric", "value", "change", "insights"}},
		},
	},
	{
		Name:        "SECURITY_LOGS",
		Description: "security, access, and audit records",
		Sheets: []SheetSchema{
			{Name: "Access_Logs", Headers: []string{"timestamp", "user_id", "action", "resource", "ip_address", "result"}},
			{Name: "Security_Events", Headers: []string{"event_id", "timestamp", "type", "severity", "description", "action_taken"}},
			{Name: "Blocked_Users", Headers: []string{"user_id", "reason", "blocked_at", "blocked_until", "severity"}},
			{Name: "Suspicious_Activities", Headers: []string{"activity_id", "timestamp", "user_id", "activity", "risk_score", "investigated"}},
			{Name: "Audit_Trail", Headers: []string{"timestamp", "user", "action", "before", "after", "reason"}},
		},
	},
	{
		Name:        "BYTELINE_DATA",
		Description: "ByteLine channel content and subscribers",
		Sheets: []SheetSchema{
			{Name: "Channel_Posts", Headers: []string{"post_id", "date", "content_en", "media", "views", "reactions", "comments"}},
			{Name: "Subscribers", Headers: []string{"user_id", "join_date", "activity_level", "interests", "engagement_score"}},
			{Name: "Content_Ideas", Headers: []string{"idea_id", "topic", "category", "priority", "status", "notes"}},
			{Name: "Campaign_Tracking", Headers: []string{"campaign_id", "name", "start_date", "end_date", "goal", "results"}},
			{Name: "Feedback_FA", Headers: []string{"feedback_id", "date", "user", "feedback_fa", "category", "action_taken"}},
		},
	},
	{
		Name:        "RESEARCH_DATA",
		Description: "experiments and research notes",
		Sheets: []SheetSchema{
			{Name: "Experiments", Headers: []string{"experiment_id", "name", "hypothesis", "method", "results", "conclusion"}},
			{Name: "Datasets", Headers: []string{"dataset_id", "name", "source", "size", "format", "last_updated"}},
			{Name: "Research_Papers", Headers: []string{"paper_id", "title", "authors", "year", "url", "summary", "relevance"}},
			{Name: "Hypotheses", Headers: []string{"hypothesis_id", "statement", "status", "evidence", "confidence"}},
			{Name: "Observations", Headers: []string{"observation_id", "date", "context", "observation", "implications"}},
		},
	},
	{
		Name:        "AUTOMATION_DATA",
		Description: "automation rules and job queue",
		Sheets: []SheetSchema{
			{Name: "Workflows", Headers: []string{"workflow_id", "name", "trigger", "steps", "status", "last_run"}},
			{Name: "Rules", Headers: []string{"rule_id", "condition", "action", "priority", "active", "execution_count"}},
			{Name: "Scripts", Headers: []string{"script_id", "name", "language", "code", "purpose", "last_modified"}},
			{Name: "Triggers", Headers: []string{"trigger_id", "type", "condition", "action", "enabled", "fire_count"}},
			{Name: "Job_Queue", Headers: []string{"job_id", "type", "priority", "status", "created_at", "completed_at"}},
		},
	},
	{
		Name:        "INTEGRATION_DATA",
		Description: "external API and webhook integrations",
		Sheets: []SheetSchema{
			{Name: "External_APIs", Headers: []string{"api_id", "name", "endpoint", "auth_type", "rate_limit", "last_call", "status"}},
			{Name: "Webhooks", Headers: []string{"webhook_id", "url", "event_type", "secret", "active", "last_triggered"}},
			{Name: "Data_Sync", Headers: []string{"sync_id", "source", "destination", "frequency", "last_sync", "records_synced"}},
			{Name: "Third_Party_Services", Headers: []string{"service_id", "name", "type", "credentials", "status", "usage"}},
			{Name: "Integration_Logs", Headers: []string{"log_id", "timestamp", "service", "action", "status", "details"}},
		},
	},
}

// WorkbookNames returns the declared workbook names in schema order.
func WorkbookNames() []string {
	names := make([]string, 0, len(Schema))
	for _, wb := range Schema {
		names = append(names, wb.Name)
	}
	return names
}

// SheetCount returns the total number of declared sheets across all workbooks.
func SheetCount() int {
	n := 0
	for _, wb := range Schema {
		n += len(wb.Sheets)
	}
	return n
}

// FindWorkbook returns the schema entry for the named workbook.
func FindWorkbook(name string) (WorkbookSchema, bool) {
	for _, wb := range Schema {
		if wb.Name == name {
			return wb, true
		}
	}
	return WorkbookSchema{}, false
}

// FindSheet returns the schema entry for a sheet within a workbook.
func FindSheet(workbook, sheet string) (SheetSchema, bool) {
	wb, ok := FindWorkbook(workbook)
	if !ok {
		return SheetSchema{}, false
	}
	for _, sh := range wb.Sheets {
		if sh.Name == sheet {
			return sh, true
		}
	}
	return SheetSchema{}, false
}
