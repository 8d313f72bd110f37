package publisher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Outcome is what the result page says about a submitted post
type Outcome struct {
	Success bool
	Reason  string
}

var (
	// After posting, the studio navigates away from the upload form
	successPaths = []string{"/tiktokstudio/content", "/tiktokstudio/post", "/manage"}

	successPhrases = []string{
		"your video has been uploaded",
		"your video is being uploaded",
		"video published",
		"manage your posts",
	}

	loginPaths = []string{"/login", "/signup"}

	alertSelectors = []string{
		`[role="alert"]`,
		`div[class*="toast"]`,
		`div[class*="Toast"]`,
		`div[class*="error-message"]`,
	}
)

// ParseOutcome inspects the page rendered after clicking post
func ParseOutcome(html, pageURL string) Outcome {
	lowerURL := strings.ToLower(pageURL)
	for _, p := range loginPaths {
		if strings.Contains(lowerURL, p) {
			return Outcome{Reason: "session expired: login required"}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Outcome{Reason: "unreadable result page"}
	}

	for _, sel := range alertSelectors {
		var alert string
		doc.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text != "" {
				alert = text
				return false
			}
			return true
		})
		if alert != "" && !containsAny(strings.ToLower(alert), successPhrases) {
			return Outcome{Reason: collapseSpace(alert)}
		}
	}

	for _, p := range successPaths {
		if strings.Contains(lowerURL, p) {
			return Outcome{Success: true}
		}
	}

	body := strings.ToLower(doc.Find("body").Text())
	if containsAny(body, successPhrases) {
		return Outcome{Success: true}
	}

	if doc.Find(`form[action*="login"]`).Length() > 0 {
		return Outcome{Reason: "session expired: login required"}
	}

	return Outcome{Reason: "post not confirmed"}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
