package services

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

const (
	minUserAgentLength = 10
	maxUserAgentLength = 500
)

// defaultBotMarkers are matched case-insensitively as substrings of the user agent.
var defaultBotMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"aiohttp",
	"httpclient",
	"go-http-client",
	"java/",
	"libwww",
	"scrapy",
	"headless",
	"phantomjs",
	"selenium",
}

// attackPattern covers script injection, SQL injection, path traversal and
// command injection. `.` does not cross newlines.
var attackPattern = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`<script`,
	`javascript:`,
	`onerror\s*=`,
	`onload\s*=`,
	`union.*select`,
	`drop.*table`,
	`\.\./`,
	`\.\.\\`,
	`etc/passwd`,
	`eval\(`,
	`exec\(`,
	`shell_exec`,
	`system\(`,
}, "|"))

// DetectorConfig extends the built-in bot markers.
type DetectorConfig struct {
	ExtraBotMarkers []string
}

// DetectorService classifica requisições sem estado e sem efeitos colaterais.
// Nunca acessa o store de contadores e não pode falhar.
type DetectorService struct {
	botMarkers []string
}

var _ ports.Detector = (*DetectorService)(nil)

func NewDetectorService(cfg DetectorConfig) *DetectorService {
	markers := make([]string, 0, len(defaultBotMarkers)+len(cfg.ExtraBotMarkers))
	markers = append(markers, defaultBotMarkers...)
	for _, m := range cfg.ExtraBotMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &DetectorService{botMarkers: markers}
}

func (d *DetectorService) Classify(sig domain.RequestSignature) domain.Classification {
	return domain.Classification{
		IsBot:    d.ClassifyBot(sig),
		IsAttack: d.ClassifyAttack(sig),
	}
}

// ClassifyBot applies the bot checks in order and stops at the first hit.
func (d *DetectorService) ClassifyBot(sig domain.RequestSignature) bool {
	ua := strings.TrimSpace(sig.UserAgent)
	if ua == "" {
		return true
	}

	lower := strings.ToLower(ua)
	for _, marker := range d.botMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	if strings.TrimSpace(sig.Accept) == "" {
		return true
	}

	n := utf8.RuneCountInString(ua)
	return n < minUserAgentLength || n > maxUserAgentLength
}

// ClassifyAttack reports whether any field matches an attack signature.
// Query and body are checked both raw and percent-decoded.
func (d *DetectorService) ClassifyAttack(sig domain.RequestSignature) bool {
	for _, field := range []string{sig.Path, sig.Query, sig.Body} {
		if field == "" {
			continue
		}
		if attackPattern.MatchString(field) {
			return true
		}
		if decoded, err := url.QueryUnescape(field); err == nil && decoded != field {
			if attackPattern.MatchString(decoded) {
				return true
			}
		}
	}
	return false
}
