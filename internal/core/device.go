package core

import (
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	mobileAgent = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)
	tabletAgent = regexp.MustCompile(`(?i)iPad|Tablet|PlayBook|Silk|Android(?:.*Mobile)?`)
	phoneHint   = regexp.MustCompile(`(?i)Mobile|iPhone|iPod`)
)

// tabletMinWidth is the screen width above which a mobile agent is treated
// as a tablet.
const tabletMinWidth = 768

// ClassifyDevice guesses the device class from a user agent and an optional
// screen width (0 when unknown). The result is best effort.
func ClassifyDevice(userAgent string, screenWidth int) DeviceType {
	if !mobileAgent.MatchString(userAgent) {
		return DeviceDesktop
	}
	if strings.Contains(strings.ToLower(userAgent), "ipad") {
		return DeviceTablet
	}
	if screenWidth >= tabletMinWidth && tabletAgent.MatchString(userAgent) {
		return DeviceTablet
	}
	if tabletAgent.MatchString(userAgent) && !phoneHint.MatchString(userAgent) {
		return DeviceTablet
	}
	return DeviceMobile
}

// NewSessionIdentity builds the identity of this process for the current
// session. Empty name falls back to the capitalized device class.
func NewSessionIdentity(userAgent, name string, now time.Time) DeviceIdentity {
	typ := DeviceDesktop
	if userAgent != "" {
		typ = ClassifyDevice(userAgent, 0)
	}
	if name == "" {
		name = strings.ToUpper(string(typ[:1])) + string(typ[1:])
	}
	model, _ := os.Hostname()
	return DeviceIdentity{
		SessionID:  uuid.NewString(),
		Type:       typ,
		Name:       name,
		Model:      model,
		OS:         runtime.GOOS,
		UserAgent:  userAgent,
		LastActive: now.UTC(),
		Status:     StatusOnline,
	}
}

// IDGenerator hands out millisecond timestamps that are strictly increasing
// within the process, so two entries created in the same millisecond still
// get distinct ids.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
