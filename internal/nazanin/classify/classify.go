// Package classify labels incoming chat messages with a category,
// derived priority and response type, plus lightweight metadata about
// the text itself. Classification is rule based and deterministic so
// the same message always yields the same labels.
package classify

import (
	"regexp"
	"strings"
	"sync"
)

// Category identifiers. Unknown is returned when nothing matches.
const (
	CategoryQuestion       = "question"
	CategoryOpinionRequest = "opinion_request"
	CategoryTechnical      = "technical"
	CategoryNews           = "news"
	CategoryAnalysis       = "analysis"
	CategoryCasual         = "casual"
	CategoryComplaint      = "complaint"
	CategoryPraise         = "praise"
	CategoryRequest        = "request"
	CategoryUrgent         = "urgent"
	CategoryUnknown        = "unknown"
)

// Response types, derived from the primary category.
const (
	ResponseDetailedAnswer        = "detailed_answer"
	ResponseAnalyticalOpinion     = "analytical_opinion"
	ResponseTechnicalExplanation  = "technical_explanation"
	ResponseEmpatheticSolution    = "empathetic_solution"
	ResponseGratefulAcknowledment = "grateful_acknowledgment"
	ResponseFriendlyChat          = "friendly_chat"
	ResponseImmediateAction       = "immediate_action"
	ResponseHelpful               = "helpful_response"
	ResponseGeneral               = "general_response"
)

// Metadata describes surface features of the message text.
type Metadata struct {
	Length     int    `json:"length"`
	WordCount  int    `json:"word_count"`
	HasEmoji   bool   `json:"has_emoji"`
	HasURL     bool   `json:"has_url"`
	HasMention bool   `json:"has_mention"`
	HasHashtag bool   `json:"has_hashtag"`
	Language   string `json:"language"`  // fa, en or unknown
	Sentiment  string `json:"sentiment"` // positive, neutral or negative
	// Platform is where the message arrived from. Not derivable from
	// the text; the caller fills it in when known.
	Platform string `json:"platform,omitempty"`
}

// Classification is the full label record for one message.
type Classification struct {
	Primary string `json:"primary_category"`
	// Confidence is the primary category's normalized score. Under
	// max-normalization this is always 1.0 when anything matched; the
	// field stays so that a future non-linear scoring can fill it.
	Confidence   float64            `json:"confidence"`
	Scores       map[string]float64 `json:"all_categories"`
	Metadata     Metadata           `json:"metadata"`
	Priority     int                `json:"priority"`
	ResponseType string             `json:"response_type"`
}

type pattern struct {
	keywords []string
	weight   float64
	regexes  []*regexp.Regexp
}

// The pattern table. Keywords match as case-insensitive substrings;
// regexes score at 1.5x the category weight. Mixed Persian and English
// keywords because the bot serves both audiences.
var patterns = map[string]pattern{
	CategoryQuestion: {
		keywords: []string{"?", "چرا", "چطور", "کی", "کجا", "چی", "why", "how", "when", "where", "what", "who"},
		weight:   2.0,
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`\?$`),
			regexp.MustCompile(`(?i)^(why|how|what|when|where|who)\s`),
		},
	},
	CategoryOpinionRequest: {
		keywords: []string{"نظرت", "فکر میکنی", "چی میگی", "what do you think", "your opinion"},
		weight:   1.8,
	},
	CategoryTechnical: {
		keywords: []string{"api", "code", "bug", "error", "کد", "خطا", "technical", "algorithm"},
		weight:   1.5,
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`\b[A-Z]{2,}\b`),
			regexp.MustCompile("(?s)```.*?```"),
		},
	},
	CategoryNews: {
		keywords: []string{"خبر", "اعلام", "منتشر", "news", "announced", "released", "breaking"},
		weight:   1.7,
	},
	CategoryAnalysis: {
		keywords: []string{"تحلیل", "بررسی", "analysis", "review", "breakdown", "deep dive"},
		weight:   1.6,
	},
	CategoryCasual: {
		keywords: []string{"سلام", "چطوری", "خوبی", "hi", "hello", "hey", "lol", "😂", "❤️"},
		weight:   1.0,
	},
	CategoryComplaint: {
		keywords: []string{"مشکل", "خراب", "کار نمیکنه", "problem", "issue", "broken", "not working"},
		weight:   1.8,
	},
	CategoryPraise: {
		keywords: []string{"عالی", "خوب", "perfect", "great", "amazing", "awesome", "👏", "🔥"},
		weight:   1.3,
	},
	CategoryRequest: {
		keywords: []string{"میشه", "لطفا", "please", "can you", "could you", "would you"},
		weight:   1.7,
	},
	CategoryUrgent: {
		keywords: []string{"فوری", "urgent", "asap", "emergency", "critical", "🚨"},
		weight:   2.5,
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`!{3,}`),
			regexp.MustCompile(`[A-Z]{5,}`),
		},
	},
}

var (
	emojiRe   = regexp.MustCompile(`[\x{1F600}-\x{1F64F}]`)
	urlRe     = regexp.MustCompile(`https?://`)
	mentionRe = regexp.MustCompile(`@\w+`)
	hashtagRe = regexp.MustCompile(`#\w+`)
	persianRe = regexp.MustCompile(`[\x{0600}-\x{06FF}]`)
	latinRe   = regexp.MustCompile(`[a-zA-Z]`)
)

var positiveWords = []string{"good", "great", "awesome", "perfect", "love", "عالی", "خوب", "😊", "❤️", "👍"}
var negativeWords = []string{"bad", "terrible", "awful", "hate", "بد", "افتضاح", "😢", "😡", "👎"}

var priorityByCategory = map[string]int{
	CategoryUrgent:    10,
	CategoryComplaint: 8,
	CategoryQuestion:  7,
	CategoryRequest:   7,
	CategoryTechnical: 6,
	CategoryCasual:    3,
}

var responseTypeByCategory = map[string]string{
	CategoryQuestion:       ResponseDetailedAnswer,
	CategoryOpinionRequest: ResponseAnalyticalOpinion,
	CategoryTechnical:      ResponseTechnicalExplanation,
	CategoryComplaint:      ResponseEmpatheticSolution,
	CategoryPraise:         ResponseGratefulAcknowledment,
	CategoryCasual:         ResponseFriendlyChat,
	CategoryUrgent:         ResponseImmediateAction,
	CategoryRequest:        ResponseHelpful,
}

// Classifier labels messages. The zero value is not usable; call New.
// Classification itself is pure; the classifier only accumulates a
// category histogram for diagnostics.
type Classifier struct {
	mu        sync.Mutex
	histogram map[string]int64
}

func New() *Classifier {
	return &Classifier{histogram: make(map[string]int64)}
}

// Classify labels one message. Empty or whitespace-only input yields
// the unknown category with zero confidence.
func (c *Classifier) Classify(text string) Classification {
	if strings.TrimSpace(text) == "" {
		c.count(CategoryUnknown)
		return Classification{
			Primary:      CategoryUnknown,
			Confidence:   0.0,
			Scores:       map[string]float64{},
			Priority:     5,
			ResponseType: ResponseGeneral,
		}
	}

	lower := strings.ToLower(text)

	raw := make(map[string]float64)
	for cat, p := range patterns {
		var score float64
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				score += p.weight
			}
		}
		for _, re := range p.regexes {
			if re.MatchString(text) {
				score += p.weight * 1.5
			}
		}
		if score > 0 {
			raw[cat] = score
		}
	}

	meta := extractMetadata(text, lower)

	if len(raw) == 0 {
		c.count(CategoryUnknown)
		return Classification{
			Primary:      CategoryUnknown,
			Confidence:   0.0,
			Scores:       map[string]float64{},
			Metadata:     meta,
			Priority:     derivePriority(CategoryUnknown, meta),
			ResponseType: ResponseGeneral,
		}
	}

	var maxScore float64
	for _, s := range raw {
		if s > maxScore {
			maxScore = s
		}
	}
	scores := make(map[string]float64, len(raw))
	primary := ""
	for cat, s := range raw {
		norm := s / maxScore
		scores[cat] = norm
		// Break score ties by category name so results never depend
		// on map iteration order.
		if norm > scores[primary] || (norm == scores[primary] && (primary == "" || cat < primary)) {
			primary = cat
		}
	}

	c.count(primary)
	return Classification{
		Primary:      primary,
		Confidence:   scores[primary],
		Scores:       scores,
		Metadata:     meta,
		Priority:     derivePriority(primary, meta),
		ResponseType: responseType(primary),
	}
}

// Histogram snapshots the per-category message counts seen so far.
func (c *Classifier) Histogram() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.histogram))
	for k, v := range c.histogram {
		out[k] = v
	}
	return out
}

func (c *Classifier) count(category string) {
	c.mu.Lock()
	c.histogram[category]++
	c.mu.Unlock()
}

func extractMetadata(text, lower string) Metadata {
	return Metadata{
		Length:     len([]rune(text)),
		WordCount:  len(strings.Fields(text)),
		HasEmoji:   emojiRe.MatchString(text),
		HasURL:     urlRe.MatchString(text),
		HasMention: mentionRe.MatchString(text),
		HasHashtag: hashtagRe.MatchString(text),
		Language:   detectLanguage(text),
		Sentiment:  detectSentiment(lower),
	}
}

func detectLanguage(text string) string {
	persian := len(persianRe.FindAllString(text, -1))
	latin := len(latinRe.FindAllString(text, -1))
	switch {
	case persian > latin:
		return "fa"
	case latin > 0:
		return "en"
	default:
		return "unknown"
	}
}

func detectSentiment(lower string) string {
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}

func derivePriority(category string, meta Metadata) int {
	priority := 5
	if p, ok := priorityByCategory[category]; ok {
		priority = p
	}
	if meta.Sentiment == "negative" && priority < 10 {
		priority++
	}
	return priority
}

func responseType(category string) string {
	if rt, ok := responseTypeByCategory[category]; ok {
		return rt
	}
	return ResponseGeneral
}
