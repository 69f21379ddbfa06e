package domain

import "strings"

const (
	DeviceDesktop = "DESKTOP"
	DeviceMobile  = "MOBILE"
	DeviceTablet  = "TABLET"
	DeviceBot     = "BOT"
	Unknown       = "UNKNOWN"
)

// ClientInfo is the device classification derived from a user-agent string.
type ClientInfo struct {
	DeviceType  string
	BrowserType string
	OSType      string
}

type uaRule struct {
	token string
	value string
}

// Rules are evaluated in order; the first matching token wins. Order matters
// because most browsers embed the tokens of the engines they descend from.
var (
	deviceRules = []uaRule{
		{"bot", DeviceBot},
		{"spider", DeviceBot},
		{"crawler", DeviceBot},
		{"ipad", DeviceTablet},
		{"tablet", DeviceTablet},
		{"kindle", DeviceTablet},
		{"mobile", DeviceMobile},
		{"iphone", DeviceMobile},
		{"android", DeviceMobile},
		{"windows phone", DeviceMobile},
	}
	browserRules = []uaRule{
		{"edg/", "EDGE"},
		{"edge/", "EDGE"},
		{"opr/", "OPERA"},
		{"opera", "OPERA"},
		{"samsungbrowser", "SAMSUNG"},
		{"firefox", "FIREFOX"},
		{"fxios", "FIREFOX"},
		{"msie", "IE"},
		{"trident/", "IE"},
		{"crios", "CHROME"},
		{"chrome", "CHROME"},
		{"safari", "SAFARI"},
		{"curl/", "CURL"},
		{"postman", "POSTMAN"},
	}
	osRules = []uaRule{
		{"windows", "WINDOWS"},
		{"iphone", "IOS"},
		{"ipad", "IOS"},
		{"ipod", "IOS"},
		{"android", "ANDROID"},
		{"mac os x", "MACOS"},
		{"macintosh", "MACOS"},
		{"cros ", "CHROME_OS"},
		{"linux", "LINUX"},
	}
)

// ClassifyUserAgent derives device, browser and OS labels from a raw user-agent header.
func ClassifyUserAgent(userAgent string) ClientInfo {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return ClientInfo{DeviceType: Unknown, BrowserType: Unknown, OSType: Unknown}
	}

	device := match(ua, deviceRules)
	if device == Unknown {
		device = DeviceDesktop
	}

	return ClientInfo{
		DeviceType:  device,
		BrowserType: match(ua, browserRules),
		OSType:      match(ua, osRules),
	}
}

func match(ua string, rules []uaRule) string {
	for _, rule := range rules {
		if strings.Contains(ua, rule.token) {
			return rule.value
		}
	}
	return Unknown
}

func normalizeToken(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
