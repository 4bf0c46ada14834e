package device

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
)

// Default widget classes used when a step names no selector.
const (
	ClassEditText   = "android.widget.EditText"
	ClassButton     = "android.widget.Button"
	ClassScrollView = "android.widget.ScrollView"
)

// ToAction converts a plan step into a concrete device action.
func ToAction(step plan.Step) core.DeviceAction {
	action := strings.ToLower(step.Action)
	lowerDesc := strings.ToLower(step.Description)

	selector := step.Selector
	if selector == "" {
		selector = SelectorFromDescription(step.Description)
	}

	var a core.DeviceAction
	switch {
	case strings.Contains(action, "tap"), strings.Contains(action, "click"):
		if selector == "" {
			target := TextFromDescription(lowerDesc)
			if target == "" {
				target = stripMarker(step.Description)
			}
			selector = fmt.Sprintf("[text=%q]", target)
		}
		a = core.DeviceAction{Type: core.ActionTap, Selector: selector, Timeout: 5 * time.Second, Retries: 3}

	case strings.Contains(action, "type"), strings.Contains(action, "input"):
		text := step.Text
		if text == "" {
			text = TextFromDescription(lowerDesc)
		}
		if selector == "" {
			selector = ClassEditText
		}
		a = core.DeviceAction{Type: core.ActionInput, Selector: selector, Text: text, Timeout: 5 * time.Second, Retries: 3}

	case strings.Contains(action, "swipe"), strings.Contains(action, "scroll"):
		if selector == "" {
			selector = ClassScrollView
		}
		a = core.DeviceAction{Type: core.ActionSwipe, Selector: selector, Timeout: 3 * time.Second, Retries: 2}

	case strings.Contains(action, "wait"):
		a = core.DeviceAction{Type: core.ActionWait, Timeout: 2 * time.Second}

	case strings.Contains(action, "launch"):
		a = core.DeviceAction{Type: core.ActionLaunch, Timeout: 10 * time.Second, Retries: 2}

	case strings.Contains(action, "back"):
		a = core.DeviceAction{Type: core.ActionBack, Timeout: 3 * time.Second, Retries: 1}

	default:
		a = core.DeviceAction{Type: core.ActionScreenshot, Timeout: 3 * time.Second, Retries: 1}
	}

	if step.Timeout > 0 {
		a.Timeout = step.Timeout
	}
	return a
}

var pinnedMarker = regexp.MustCompile(`\[Using pinned selector: (\w+)="([^"]+)"\]`)

// SelectorFromDescription infers a selector from a step description: a pinned
// selector marker wins, then widget hints in the text.
func SelectorFromDescription(desc string) string {
	if m := pinnedMarker.FindStringSubmatch(desc); m != nil {
		return FormatSelector(m[1], m[2])
	}
	switch {
	case strings.Contains(desc, "search"), strings.Contains(desc, "input"):
		return ClassEditText
	case strings.Contains(desc, "button"):
		return ClassButton
	}
	return ""
}

var (
	quotedText = regexp.MustCompile(`"([^"]+)"`)
	afterVerb  = regexp.MustCompile(`type\s+(.+)|search\s+(.+)`)
)

// TextFromDescription extracts quoted text, or the text following "type" or "search".
func TextFromDescription(desc string) string {
	if m := quotedText.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	if m := afterVerb.FindStringSubmatch(desc); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return ""
}

// FormatSelector renders a typed selector in the driver's selector syntax.
func FormatSelector(kind, value string) string {
	switch strings.ToLower(kind) {
	case "id", "resourceid":
		return fmt.Sprintf("[resource-id=%q]", value)
	case "text":
		return fmt.Sprintf("[text=%q]", value)
	case "xpath", "classname":
		return value
	case "accessibility", "contentdesc":
		return fmt.Sprintf("[content-desc=%q]", value)
	default:
		return fmt.Sprintf("[text=%q]", value)
	}
}

func stripMarker(desc string) string {
	return strings.TrimSpace(pinnedMarker.ReplaceAllString(desc, ""))
}
