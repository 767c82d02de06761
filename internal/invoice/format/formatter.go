package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)
)

const (
	DefaultExternalReferenceTemplate = "CB-{TENANT}-{YYYY}{MM}-{SEQ3}"
	DefaultDescriptionTemplate       = "Monthly invoice - {CLINIC} ({PERIOD})"
)

// FormatExternalReference renders a reference for one tenant and billing
// period. The output is deterministic for the same inputs.
func FormatExternalReference(template string, tenantID snowflake.ID, periodStart time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("external reference template is empty")
	}
	if tenantID == 0 {
		return "", fmt.Errorf("invalid tenant id")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid reference sequence: %d", seq)
	}

	out := template
	out = strings.ReplaceAll(out, "{TENANT}", tenantID.String())
	out = strings.ReplaceAll(out, "{YYYY}", periodStart.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", periodStart.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", periodStart.Format("01"))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))
	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in reference format: %s", out)
	}
	return out, nil
}

// FormatDescription renders the human-readable invoice description.
func FormatDescription(template, clinic, period string) string {
	if template == "" {
		template = DefaultDescriptionTemplate
	}
	out := strings.ReplaceAll(template, "{CLINIC}", strings.TrimSpace(clinic))
	return strings.ReplaceAll(out, "{PERIOD}", period)
}
